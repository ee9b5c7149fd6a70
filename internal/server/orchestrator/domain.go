package orchestrator

import (
	"crypto/sha1"
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// GenerateMAC derives a stable unicast MAC for a VM name inside the
// 52:54:00 prefix libvirt reserves for KVM guests. Hashing the name keeps
// addresses collision-free across VMs with distinct names.
func GenerateMAC(name string) string {
	h := sha1.Sum([]byte(name))
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", h[0], h[1], h[2])
}

// renderDomainXML builds the bare-disk fallback domain definition: a KVM
// guest with the blank disk, the requested network, and VNC graphics.
func renderDomainXML(req CreateRequest, diskPath, mac string) (string, error) {
	domain := libvirtxml.Domain{
		Type: "kvm",
		Name: req.Name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(req.MemoryMB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{Value: uint(req.VCPUs)},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{Arch: "x86_64", Machine: "q35", Type: "hvm"},
			BootDevices: []libvirtxml.DomainBootDevice{
				{Dev: "hd"},
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		Devices: &libvirtxml.DomainDeviceList{
			Disks: []libvirtxml.DomainDisk{
				{
					Device: "disk",
					Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: "qcow2"},
					Source: &libvirtxml.DomainDiskSource{
						File: &libvirtxml.DomainDiskSourceFile{File: diskPath},
					},
					Target: &libvirtxml.DomainDiskTarget{Dev: "vda", Bus: "virtio"},
				},
			},
			Interfaces: []libvirtxml.DomainInterface{
				{
					MAC: &libvirtxml.DomainInterfaceMAC{Address: mac},
					Source: &libvirtxml.DomainInterfaceSource{
						Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: req.Network},
					},
					Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
				},
			},
			Graphics: []libvirtxml.DomainGraphic{
				{
					VNC: &libvirtxml.DomainGraphicVNC{Port: -1, AutoPort: "yes", Listen: "0.0.0.0"},
				},
			},
			Consoles: []libvirtxml.DomainConsole{
				{
					Target: &libvirtxml.DomainConsoleTarget{Type: "serial"},
				},
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("orchestrator: marshal domain xml: %w", err)
	}
	return xml, nil
}
