package libvirtnet

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type fakeRunner struct {
	outputs map[string]string
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const activeList = ` Name      State    Autostart   Persistent
--------------------------------------------
 default   active   yes         yes
`

const inactiveList = ` Name      State      Autostart   Persistent
----------------------------------------------
 default   inactive   no          yes
`

const emptyList = ` Name   State   Autostart   Persistent
----------------------------------------
`

func TestEnsureActiveNetworkIssuesOnlyList(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"virsh net-list": activeList}}
	m := New("default", runner, testLogger())

	if err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if got := len(runner.calls); got != 1 {
		t.Fatalf("expected only net-list, got calls %v", runner.calls)
	}
	if runner.count("virsh net-define") != 0 {
		t.Fatalf("unexpected net-define")
	}
}

func TestEnsureInactiveNetworkStartsOnly(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"virsh net-list": inactiveList}}
	m := New("default", runner, testLogger())

	if err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if runner.count("virsh net-define") != 0 {
		t.Fatalf("unexpected net-define: %v", runner.calls)
	}
	if runner.count("virsh net-start default") != 1 {
		t.Fatalf("expected one net-start, got %v", runner.calls)
	}
}

func TestEnsureMissingNetworkDefinesStartsAutostarts(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"virsh net-list": emptyList}}
	m := New("default", runner, testLogger())

	if err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, want := range []string{"virsh net-define", "virsh net-start default", "virsh net-autostart default"} {
		if runner.count(want) != 1 {
			t.Fatalf("expected one %q, got %v", want, runner.calls)
		}
	}
}

func TestRenderXMLContainsNATAndDHCP(t *testing.T) {
	m := New("default", &fakeRunner{}, testLogger())
	xml, err := m.renderXML()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"<name>default</name>", `mode="nat"`, "192.168.122.1", "192.168.122.2", "192.168.122.254", "virbr0"} {
		if !strings.Contains(xml, want) {
			t.Fatalf("xml missing %q:\n%s", want, xml)
		}
	}
}
