package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vpsdash/vpsd/internal/server/orchestrator/libvirtnet"
	"github.com/vpsdash/vpsd/internal/shared/cmdexec"
)

// fakeRunner records every command and answers from a prefix-matched script.
type fakeRunner struct {
	outputs map[string]string
	fail    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	for prefix, err := range f.fail {
		if strings.HasPrefix(call, prefix) {
			return "", err
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(call, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeRunner) count(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeRunner) indexOf(prefix string) int {
	for i, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

const activeNetList = ` Name      State    Autostart   Persistent
--------------------------------------------
 default   active   yes         yes
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine wires an engine over the fake runner with the base cloud
// image already present on disk.
func newTestEngine(t *testing.T, runner *fakeRunner) Engine {
	t.Helper()
	imageDir := t.TempDir()
	base := filepath.Join(imageDir, "base.img")
	if err := os.WriteFile(base, []byte("qcow"), 0o644); err != nil {
		t.Fatalf("seed base image: %v", err)
	}

	eng, err := New(Params{
		Runner:       runner,
		Logger:       testLogger(),
		Network:      libvirtnet.New("default", runner, testLogger()),
		ImageDir:     imageDir,
		SeedDir:      filepath.Join(imageDir, "seeds"),
		BaseImageURL: "https://example.com/base.img",
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func defaultCreateRequest() CreateRequest {
	return CreateRequest{Name: "web1", MemoryMB: 1024, VCPUs: 1, DiskGB: 20, OSType: "ubuntu-24.04"}
}

func TestCreateProvisionsDiskBeforeDomainDefinition(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"virsh net-list": activeNetList}}
	eng := newTestEngine(t, runner)

	result, err := eng.Create(context.Background(), defaultCreateRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Strategy != StrategyCloudImage {
		t.Fatalf("expected cloud-image strategy, got %q", result.Strategy)
	}

	copyIdx := runner.indexOf("cp ")
	importIdx := runner.indexOf("virt-install")
	if copyIdx < 0 || importIdx < 0 {
		t.Fatalf("missing expected commands: %v", runner.calls)
	}
	if copyIdx >= importIdx {
		t.Fatalf("disk provisioning must precede domain definition: %v", runner.calls)
	}
}

func TestCreateEndToEndExactCommandSequence(t *testing.T) {
	// Base image present, network already defined and active: the happy path
	// issues exactly one copy, one resize, one ISO build, one import.
	runner := &fakeRunner{outputs: map[string]string{"virsh net-list": activeNetList}}
	eng := newTestEngine(t, runner)

	result, err := eng.Create(context.Background(), defaultCreateRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.PrimaryError != "" {
		t.Fatalf("unexpected fallback: %s", result.PrimaryError)
	}

	for prefix, want := range map[string]int{
		"cp ":              1,
		"qemu-img resize":  1,
		"genisoimage":      1,
		"virt-install":     1,
		"virsh net-define": 0,
		"virsh net-start":  0,
		"qemu-img create":  0,
		"virsh define":     0,
	} {
		if got := runner.count(prefix); got != want {
			t.Fatalf("expected %d %q commands, got %d: %v", want, prefix, got, runner.calls)
		}
	}
}

func TestCreateFallbackInvokedOnceWithSameParameters(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"virsh net-list": activeNetList},
		fail: map[string]error{
			"virt-install": &cmdexec.ExitError{Command: "virt-install", ExitCode: 1, Stderr: "unsupported machine"},
		},
	}
	eng := newTestEngine(t, runner)

	result, err := eng.Create(context.Background(), defaultCreateRequest())
	if err != nil {
		t.Fatalf("create with fallback: %v", err)
	}
	if result.Strategy != StrategyBareDisk {
		t.Fatalf("expected bare-disk strategy, got %q", result.Strategy)
	}
	if !strings.Contains(result.PrimaryError, "unsupported machine") {
		t.Fatalf("primary error not recorded: %q", result.PrimaryError)
	}

	if got := runner.count("qemu-img create"); got != 1 {
		t.Fatalf("expected exactly one blank-disk creation, got %d: %v", got, runner.calls)
	}
	if got := runner.count("virsh define"); got != 1 {
		t.Fatalf("expected exactly one domain define, got %d: %v", got, runner.calls)
	}

	blankIdx := runner.indexOf("qemu-img create")
	defineIdx := runner.indexOf("virsh define")
	if blankIdx >= defineIdx {
		t.Fatalf("fallback disk must be created before define: %v", runner.calls)
	}

	created := runner.calls[blankIdx]
	if !strings.Contains(created, "20G") || !strings.Contains(created, "web1.qcow2") {
		t.Fatalf("fallback did not reuse request parameters: %s", created)
	}
}

func TestCreateBothStrategiesFailingSurfacesBoth(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"virsh net-list": activeNetList},
		fail: map[string]error{
			"virt-install": &cmdexec.ExitError{Command: "virt-install", ExitCode: 1, Stderr: "no kvm"},
			"virsh define": &cmdexec.ExitError{Command: "virsh define", ExitCode: 1, Stderr: "permission denied"},
		},
	}
	eng := newTestEngine(t, runner)

	_, err := eng.Create(context.Background(), defaultCreateRequest())
	if err == nil {
		t.Fatalf("expected error when both strategies fail")
	}
	if !strings.Contains(err.Error(), "no kvm") || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("error should carry both failures: %v", err)
	}
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	runner := &fakeRunner{}
	eng := newTestEngine(t, runner)

	cases := []CreateRequest{
		{Name: "", MemoryMB: 1024, VCPUs: 1, DiskGB: 10},
		{Name: "x", MemoryMB: 0, VCPUs: 1, DiskGB: 10},
		{Name: "x", MemoryMB: 1024, VCPUs: 0, DiskGB: 10},
		{Name: "x", MemoryMB: 1024, VCPUs: 1, DiskGB: 0},
	}
	for _, req := range cases {
		if _, err := eng.Create(context.Background(), req); err == nil {
			t.Fatalf("expected validation error for %+v", req)
		}
	}
	if len(runner.calls) != 0 {
		t.Fatalf("no command should run for invalid requests: %v", runner.calls)
	}
}

func TestLifecycleInvalidActionRejectedBeforeAnyCommand(t *testing.T) {
	runner := &fakeRunner{}
	eng := newTestEngine(t, runner)

	err := eng.Lifecycle(context.Background(), "web1", "obliterate")
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("no command should run for an invalid action: %v", runner.calls)
	}
}

func TestLifecycleActionsMapToVirsh(t *testing.T) {
	runner := &fakeRunner{}
	eng := newTestEngine(t, runner)

	for action, subcommand := range map[string]string{
		"start":    "start",
		"stop":     "destroy",
		"shutdown": "shutdown",
		"reboot":   "reboot",
		"suspend":  "suspend",
		"resume":   "resume",
	} {
		runner.calls = nil
		if err := eng.Lifecycle(context.Background(), "web1", action); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
		want := "virsh " + subcommand + " web1"
		if len(runner.calls) != 1 || runner.calls[0] != want {
			t.Fatalf("action %s: expected %q, got %v", action, want, runner.calls)
		}
	}
}

func TestDeleteOrderingHeldRegardlessOfFailures(t *testing.T) {
	runner := &fakeRunner{
		fail: map[string]error{
			"virsh destroy": &cmdexec.ExitError{Command: "virsh destroy", ExitCode: 1, Stderr: "domain is not running"},
		},
	}
	eng := newTestEngine(t, runner)

	if err := eng.Delete(context.Background(), "web1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	destroyIdx := runner.indexOf("virsh destroy web1")
	undefineIdx := runner.indexOf("virsh undefine web1")
	if destroyIdx < 0 || undefineIdx < 0 {
		t.Fatalf("missing delete commands: %v", runner.calls)
	}
	if destroyIdx >= undefineIdx {
		t.Fatalf("destroy must precede undefine: %v", runner.calls)
	}
}

func TestDeleteGhostSurfacesUndefineError(t *testing.T) {
	runner := &fakeRunner{
		fail: map[string]error{
			"virsh destroy":  &cmdexec.ExitError{Command: "virsh destroy", ExitCode: 1, Stderr: "failed to get domain 'ghost'"},
			"virsh undefine": &cmdexec.ExitError{Command: "virsh undefine", ExitCode: 1, Stderr: "error: failed to get domain 'ghost'"},
		},
	}
	eng := newTestEngine(t, runner)

	err := eng.Delete(context.Background(), "ghost")
	if err == nil {
		t.Fatalf("expected undefine failure to propagate")
	}
	if !strings.Contains(err.Error(), "failed to get domain 'ghost'") {
		t.Fatalf("undefine stderr not surfaced: %v", err)
	}
	if runner.count("virsh destroy ghost") != 1 {
		t.Fatalf("force-stop must still be attempted: %v", runner.calls)
	}
}

func TestListParsesDomains(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"virsh list": ` Id   Name   State
--------------------------
 1    web1   running
 -    db1    shut off
`,
	}}
	eng := newTestEngine(t, runner)

	vms, err := eng.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(vms) != 2 {
		t.Fatalf("expected 2 vms, got %+v", vms)
	}
	if vms[0].Name != "web1" || vms[0].State != "running" {
		t.Fatalf("unexpected first vm %+v", vms[0])
	}
	if vms[1].Name != "db1" || vms[1].State != "shut off" {
		t.Fatalf("unexpected second vm %+v", vms[1])
	}
}

func TestListMissingHypervisorIsClassified(t *testing.T) {
	runner := &fakeRunner{
		fail: map[string]error{"virsh list": cmdexec.ErrToolNotFound},
	}
	eng := newTestEngine(t, runner)

	_, err := eng.List(context.Background())
	if !errors.Is(err, ErrHypervisorUnavailable) {
		t.Fatalf("expected ErrHypervisorUnavailable, got %v", err)
	}
}

func TestGetEnrichesFromDomInfo(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"virsh list": ` Id   Name   State
--------------------------
 1    web1   running
`,
		"virsh dominfo": `Id:             1
Name:           web1
State:          running
CPU(s):         2
Max memory:     2097152 KiB
`,
	}}
	eng := newTestEngine(t, runner)

	vm, err := eng.Get(context.Background(), "web1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if vm == nil {
		t.Fatalf("expected vm")
	}
	if vm.MemoryMB != 2048 || vm.VCPUs != 2 {
		t.Fatalf("dominfo not applied: %+v", vm)
	}
}

func TestGetUnknownDomainReturnsNotFound(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"virsh list": " Id   Name   State\n----\n"}}
	eng := newTestEngine(t, runner)

	vm, err := eng.Get(context.Background(), "ghost")
	if !errors.Is(err, ErrVMNotFound) {
		t.Fatalf("expected ErrVMNotFound, got %v", err)
	}
	if vm != nil {
		t.Fatalf("expected no vm for unknown domain, got %+v", vm)
	}
}

func TestConsoleResolvesPort(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"virsh vncdisplay": ":1\n"}}
	eng := newTestEngine(t, runner)

	info, err := eng.Console(context.Background(), "web1")
	if err != nil {
		t.Fatalf("console: %v", err)
	}
	if info.Port != 5901 {
		t.Fatalf("expected port 5901, got %d", info.Port)
	}
	if !strings.HasPrefix(info.VNCURL, "vnc://") {
		t.Fatalf("unexpected vnc url %q", info.VNCURL)
	}
}

func TestGenerateMACStableAndPrefixed(t *testing.T) {
	a := GenerateMAC("web1")
	b := GenerateMAC("web1")
	c := GenerateMAC("web2")
	if a != b {
		t.Fatalf("mac not stable: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("distinct names must not collide: %s", a)
	}
	if !strings.HasPrefix(a, "52:54:00:") {
		t.Fatalf("mac outside libvirt prefix: %s", a)
	}
}

func TestParseVNCDisplayVariants(t *testing.T) {
	if port, err := parseVNCDisplay("127.0.0.1:3\n"); err != nil || port != 5903 {
		t.Fatalf("host:display form: port=%d err=%v", port, err)
	}
	if _, err := parseVNCDisplay(""); err == nil {
		t.Fatalf("expected error for empty display")
	}
}
