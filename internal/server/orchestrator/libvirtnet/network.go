// Package libvirtnet ensures the NAT network VMs attach to exists and is
// active before any domain is defined.
package libvirtnet

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"libvirt.org/go/libvirtxml"

	"github.com/vpsdash/vpsd/internal/shared/cmdexec"
)

const (
	bridgeName = "virbr0"
	bridgeMAC  = "52:54:00:6c:3c:01"
	hostAddr   = "192.168.122.1"
	netmask    = "255.255.255.0"
	dhcpStart  = "192.168.122.2"
	dhcpEnd    = "192.168.122.254"
)

// Manager bootstraps a named libvirt network. It is idempotent: repeated
// Ensure calls on a live network issue only the list query.
type Manager struct {
	Name   string
	Runner cmdexec.Runner
	Logger *slog.Logger

	// mu serializes bootstrap so two concurrent first-time creations cannot
	// both attempt to define the network.
	mu sync.Mutex
}

// New constructs a Manager for the given network name.
func New(name string, runner cmdexec.Runner, logger *slog.Logger) *Manager {
	return &Manager{Name: name, Runner: runner, Logger: logger.With("component", "libvirtnet")}
}

// Ensure makes the network defined and active. Missing network: define,
// start, autostart. Defined but inactive: start only. Active: nothing.
func (m *Manager) Ensure(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	out, err := m.Runner.Run(ctx, "virsh", "net-list", "--all")
	if err != nil {
		return fmt.Errorf("libvirtnet: list networks: %w", err)
	}

	if !strings.Contains(out, m.Name) {
		return m.define(ctx)
	}
	if !m.lineActive(out) {
		if _, err := m.Runner.Run(ctx, "virsh", "net-start", m.Name); err != nil {
			return fmt.Errorf("libvirtnet: start network %s: %w", m.Name, err)
		}
	}
	return nil
}

func (m *Manager) define(ctx context.Context) error {
	xml, err := m.renderXML()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "vpsd-net-*.xml")
	if err != nil {
		return fmt.Errorf("libvirtnet: temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.WriteString(xml); err != nil {
		tmp.Close()
		return fmt.Errorf("libvirtnet: write network xml: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("libvirtnet: close network xml: %w", err)
	}

	if _, err := m.Runner.Run(ctx, "virsh", "net-define", filepath.Clean(path)); err != nil {
		// Another caller may have won the define; degrade to a start attempt.
		m.Logger.Warn("net-define failed, attempting start", "network", m.Name, "error", err)
		if _, startErr := m.Runner.Run(ctx, "virsh", "net-start", m.Name); startErr != nil {
			return fmt.Errorf("libvirtnet: define network %s: %w", m.Name, err)
		}
		return nil
	}
	if _, err := m.Runner.Run(ctx, "virsh", "net-start", m.Name); err != nil {
		return fmt.Errorf("libvirtnet: start network %s: %w", m.Name, err)
	}
	if _, err := m.Runner.Run(ctx, "virsh", "net-autostart", m.Name); err != nil {
		return fmt.Errorf("libvirtnet: autostart network %s: %w", m.Name, err)
	}
	return nil
}

// lineActive reports whether the net-list row naming the network also marks
// it active.
func (m *Manager) lineActive(out string) bool {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == m.Name {
			return strings.EqualFold(fields[1], "active")
		}
	}
	return false
}

func (m *Manager) renderXML() (string, error) {
	network := libvirtxml.Network{
		Name: m.Name,
		Forward: &libvirtxml.NetworkForward{
			Mode: "nat",
		},
		Bridge: &libvirtxml.NetworkBridge{
			Name:  bridgeName,
			STP:   "on",
			Delay: "0",
		},
		MAC: &libvirtxml.NetworkMAC{Address: bridgeMAC},
		IPs: []libvirtxml.NetworkIP{
			{
				Address: hostAddr,
				Netmask: netmask,
				DHCP: &libvirtxml.NetworkDHCP{
					Ranges: []libvirtxml.NetworkDHCPRange{
						{Start: dhcpStart, End: dhcpEnd},
					},
				},
			},
		},
	}
	xml, err := network.Marshal()
	if err != nil {
		return "", fmt.Errorf("libvirtnet: marshal network xml: %w", err)
	}
	return xml, nil
}
