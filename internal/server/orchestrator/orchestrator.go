package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vpsdash/vpsd/internal/server/orchestrator/cloudinit"
	"github.com/vpsdash/vpsd/internal/shared/cmdexec"
)

// Engine represents the VM lifecycle core. Every read re-queries the
// hypervisor; no VM state is held between requests.
type Engine interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	List(ctx context.Context) ([]VM, error)
	Get(ctx context.Context, name string) (*VM, error)
	Lifecycle(ctx context.Context, name, action string) error
	Delete(ctx context.Context, name string) error
	Console(ctx context.Context, name string) (*ConsoleInfo, error)
	Templates() []Template
}

// NetworkEnsurer makes the VM network defined and active before a domain is
// created.
type NetworkEnsurer interface {
	Ensure(ctx context.Context) error
}

// CreateRequest captures the inputs required to bring a VM into existence.
type CreateRequest struct {
	Name     string
	MemoryMB int
	VCPUs    int
	DiskGB   int
	OSType   string
	Network  string
}

// Creation strategy names, evaluated in order.
const (
	StrategyCloudImage = "cloud-image"
	StrategyBareDisk   = "bare-disk"
)

// CreateResult reports which strategy produced the domain. PrimaryError is
// set when the cloud-image strategy failed and the bare-disk fallback ran.
type CreateResult struct {
	Name         string `json:"name"`
	Strategy     string `json:"strategy"`
	DiskPath     string `json:"disk_path"`
	PrimaryError string `json:"primary_error,omitempty"`
}

// VM mirrors a hypervisor domain as reported by virsh.
type VM struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	MemoryMB int    `json:"memory_mb,omitempty"`
	VCPUs    int    `json:"vcpus,omitempty"`
	DiskPath string `json:"disk_path,omitempty"`
}

// ConsoleInfo carries the connection coordinates for a VM display. The web
// console URL assumes an external VNC-to-HTTP bridge at the same port.
type ConsoleInfo struct {
	Name          string `json:"name"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	VNCURL        string `json:"vnc_url"`
	WebConsoleURL string `json:"web_console_url"`
}

var (
	// ErrInvalidAction indicates a lifecycle action outside the supported set.
	ErrInvalidAction = errors.New("orchestrator: invalid action")
	// ErrHypervisorUnavailable indicates virsh is not installed on the host.
	ErrHypervisorUnavailable = errors.New("orchestrator: hypervisor tools not available")
	// ErrVMNotFound indicates the hypervisor knows no domain by that name.
	ErrVMNotFound = errors.New("orchestrator: vm not found")
)

// lifecycleCommands maps API actions to virsh subcommands. stop is a forced
// power-off; shutdown is the ACPI request.
var lifecycleCommands = map[string]string{
	"start":    "start",
	"stop":     "destroy",
	"shutdown": "shutdown",
	"reboot":   "reboot",
	"suspend":  "suspend",
	"resume":   "resume",
}

// Params wires dependencies for the engine.
type Params struct {
	Runner       cmdexec.Runner
	Logger       *slog.Logger
	Network      NetworkEnsurer
	ImageDir     string
	SeedDir      string
	BaseImageURL string

	// Download fetches the base cloud image; defaults to an HTTP download.
	Download func(ctx context.Context, url, dest string) error
}

// New constructs the production engine.
func New(params Params) (Engine, error) {
	if params.Runner == nil {
		return nil, fmt.Errorf("orchestrator: runner is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("orchestrator: logger is required")
	}
	if params.Network == nil {
		return nil, fmt.Errorf("orchestrator: network ensurer is required")
	}
	if strings.TrimSpace(params.ImageDir) == "" {
		return nil, fmt.Errorf("orchestrator: image dir is required")
	}
	if strings.TrimSpace(params.SeedDir) == "" {
		params.SeedDir = filepath.Join(params.ImageDir, "seeds")
	}
	if params.Download == nil {
		params.Download = httpDownload
	}

	return &engine{
		runner:       params.Runner,
		logger:       params.Logger.With("component", "orchestrator"),
		network:      params.Network,
		imageDir:     filepath.Clean(params.ImageDir),
		seedDir:      filepath.Clean(params.SeedDir),
		baseImageURL: params.BaseImageURL,
		download:     params.Download,
		templates:    defaultTemplates(),
	}, nil
}

type engine struct {
	runner       cmdexec.Runner
	logger       *slog.Logger
	network      NetworkEnsurer
	imageDir     string
	seedDir      string
	baseImageURL string
	download     func(ctx context.Context, url, dest string) error
	templates    []Template

	// imageMu serializes first-time base image downloads.
	imageMu sync.Mutex
}

func (e *engine) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Network) == "" {
		req.Network = "default"
	}

	result := &CreateResult{Name: req.Name, DiskPath: e.diskPath(req.Name)}

	primaryErr := e.createFromCloudImage(ctx, req)
	if primaryErr == nil {
		result.Strategy = StrategyCloudImage
		e.logger.Info("vm created", "vm", req.Name, "strategy", result.Strategy)
		return result, nil
	}

	e.logger.Warn("cloud-image strategy failed, trying bare-disk fallback",
		"vm", req.Name, "error", primaryErr)
	result.PrimaryError = primaryErr.Error()

	if err := e.createBareDisk(ctx, req); err != nil {
		return nil, fmt.Errorf("orchestrator: create %s: cloud-image: %v; bare-disk: %w", req.Name, primaryErr, err)
	}
	result.Strategy = StrategyBareDisk
	e.logger.Info("vm created", "vm", req.Name, "strategy", result.Strategy)
	return result, nil
}

// createFromCloudImage provisions a bootable VM: base image copy, resize,
// cloud-init seed ISO, then a virt-install import.
func (e *engine) createFromCloudImage(ctx context.Context, req CreateRequest) error {
	if err := e.network.Ensure(ctx); err != nil {
		return err
	}

	base, err := e.ensureBaseImage(ctx)
	if err != nil {
		return err
	}

	disk := e.diskPath(req.Name)
	if err := os.MkdirAll(filepath.Dir(disk), 0o755); err != nil {
		return fmt.Errorf("orchestrator: ensure image dir: %w", err)
	}
	if _, err := e.runner.Run(ctx, "cp", base, disk); err != nil {
		return fmt.Errorf("orchestrator: copy base image: %w", err)
	}
	if _, err := e.runner.Run(ctx, "qemu-img", "resize", disk, fmt.Sprintf("%dG", req.DiskGB)); err != nil {
		return fmt.Errorf("orchestrator: resize disk: %w", err)
	}

	seed := e.seedPath(req.Name)
	seedInput := cloudinit.SeedInput{Name: req.Name, OSType: req.OSType}
	if err := cloudinit.BuildSeedISO(ctx, e.runner, seedInput, seed); err != nil {
		return err
	}

	args := []string{
		"--name", req.Name,
		"--memory", fmt.Sprintf("%d", req.MemoryMB),
		"--vcpus", fmt.Sprintf("%d", req.VCPUs),
		"--disk", fmt.Sprintf("path=%s,format=qcow2,bus=virtio", disk),
		"--disk", fmt.Sprintf("path=%s,device=cdrom", seed),
		"--network", fmt.Sprintf("network=%s,model=virtio", req.Network),
		"--os-variant", osVariant(req.OSType),
		"--graphics", "vnc,listen=0.0.0.0",
		"--import",
		"--noautoconsole",
	}
	if _, err := e.runner.Run(ctx, "virt-install", args...); err != nil {
		return fmt.Errorf("orchestrator: virt-install: %w", err)
	}
	return nil
}

// createBareDisk is the fallback: a blank qcow2 plus a defined domain with no
// installation media. The resulting VM has no OS until the operator attaches
// one.
func (e *engine) createBareDisk(ctx context.Context, req CreateRequest) error {
	if err := e.network.Ensure(ctx); err != nil {
		return err
	}

	disk := e.diskPath(req.Name)
	if err := os.MkdirAll(filepath.Dir(disk), 0o755); err != nil {
		return fmt.Errorf("orchestrator: ensure image dir: %w", err)
	}
	if _, err := e.runner.Run(ctx, "qemu-img", "create", "-f", "qcow2", disk, fmt.Sprintf("%dG", req.DiskGB)); err != nil {
		return fmt.Errorf("orchestrator: create blank disk: %w", err)
	}

	xml, err := renderDomainXML(req, disk, GenerateMAC(req.Name))
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "vpsd-domain-*.xml")
	if err != nil {
		return fmt.Errorf("orchestrator: temp domain xml: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.WriteString(xml); err != nil {
		tmp.Close()
		return fmt.Errorf("orchestrator: write domain xml: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("orchestrator: close domain xml: %w", err)
	}

	if _, err := e.runner.Run(ctx, "virsh", "define", path); err != nil {
		return fmt.Errorf("orchestrator: define domain: %w", err)
	}
	return nil
}

// ensureBaseImage returns the local base cloud image path, downloading it
// from the configured upstream on first use.
func (e *engine) ensureBaseImage(ctx context.Context) (string, error) {
	if strings.TrimSpace(e.baseImageURL) == "" {
		return "", fmt.Errorf("orchestrator: base image URL not configured")
	}
	path := filepath.Join(e.imageDir, filepath.Base(e.baseImageURL))

	e.imageMu.Lock()
	defer e.imageMu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("orchestrator: stat base image: %w", err)
	}

	if err := os.MkdirAll(e.imageDir, 0o755); err != nil {
		return "", fmt.Errorf("orchestrator: ensure image dir: %w", err)
	}
	e.logger.Info("downloading base cloud image", "url", e.baseImageURL, "dest", path)
	if err := e.download(ctx, e.baseImageURL, path); err != nil {
		return "", fmt.Errorf("orchestrator: download base image: %w", err)
	}
	return path, nil
}

func (e *engine) Lifecycle(ctx context.Context, name, action string) error {
	command, ok := lifecycleCommands[action]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidAction, action)
	}
	if _, err := e.runner.Run(ctx, "virsh", command, name); err != nil {
		return fmt.Errorf("orchestrator: %s %s: %w", action, name, err)
	}
	return nil
}

func (e *engine) Delete(ctx context.Context, name string) error {
	// Force-stop first; a failure only means the domain was not running.
	if _, err := e.runner.Run(ctx, "virsh", "destroy", name); err != nil {
		e.logger.Debug("destroy before undefine", "vm", name, "error", err)
	}
	if _, err := e.runner.Run(ctx, "virsh", "undefine", name); err != nil {
		return fmt.Errorf("orchestrator: undefine %s: %w", name, err)
	}
	for _, path := range []string{e.diskPath(name), e.seedPath(name)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("remove vm artifact", "path", path, "error", err)
		}
	}
	return nil
}

func (e *engine) List(ctx context.Context) ([]VM, error) {
	out, err := e.runner.Run(ctx, "virsh", "list", "--all")
	if err != nil {
		if errors.Is(err, cmdexec.ErrToolNotFound) {
			return nil, ErrHypervisorUnavailable
		}
		return nil, fmt.Errorf("orchestrator: list domains: %w", err)
	}
	return parseDomainList(out), nil
}

func (e *engine) Get(ctx context.Context, name string) (*VM, error) {
	vms, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range vms {
		if vms[i].Name != name {
			continue
		}
		vm := vms[i]
		if out, err := e.runner.Run(ctx, "virsh", "dominfo", name); err == nil {
			enrichFromDomInfo(&vm, out)
		}
		vm.DiskPath = e.diskPath(name)
		return &vm, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrVMNotFound, name)
}

func (e *engine) Console(ctx context.Context, name string) (*ConsoleInfo, error) {
	out, err := e.runner.Run(ctx, "virsh", "vncdisplay", name)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: vnc display for %s: %w", name, err)
	}
	port, err := parseVNCDisplay(out)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %s: %w", name, err)
	}
	host := hostPrimaryIP()
	return &ConsoleInfo{
		Name:          name,
		Host:          host,
		Port:          port,
		VNCURL:        fmt.Sprintf("vnc://%s:%d", host, port),
		WebConsoleURL: fmt.Sprintf("http://%s:%d", host, port),
	}, nil
}

func (e *engine) Templates() []Template {
	out := make([]Template, len(e.templates))
	copy(out, e.templates)
	return out
}

func (e *engine) diskPath(name string) string {
	return filepath.Join(e.imageDir, name+".qcow2")
}

func (e *engine) seedPath(name string) string {
	return filepath.Join(e.seedDir, name+"-seed.iso")
}

func validateCreateRequest(req CreateRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("orchestrator: vm name required")
	}
	if req.MemoryMB <= 0 {
		return fmt.Errorf("orchestrator: memory must be > 0")
	}
	if req.VCPUs <= 0 {
		return fmt.Errorf("orchestrator: vcpus must be > 0")
	}
	if req.DiskGB <= 0 {
		return fmt.Errorf("orchestrator: disk size must be > 0")
	}
	return nil
}

func osVariant(osType string) string {
	switch strings.ToLower(strings.TrimSpace(osType)) {
	case "ubuntu-24.04", "ubuntu2404":
		return "ubuntu24.04"
	case "ubuntu-22.04", "ubuntu2204":
		return "ubuntu22.04"
	case "debian-12", "debian12":
		return "debian12"
	case "alpine":
		return "alpinelinux3.19"
	default:
		return "generic"
	}
}

func httpDownload(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

var _ Engine = (*engine)(nil)
