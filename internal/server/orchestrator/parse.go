package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
)

const vncBasePort = 5900

// parseDomainList extracts domains from `virsh list --all` output:
//
//	 Id   Name   State
//	--------------------------
//	 1    web1   running
//	 -    db1    shut off
func parseDomainList(out string) []VM {
	var vms []VM
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Id") || strings.HasPrefix(line, "--") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		vms = append(vms, VM{
			ID:    fields[0],
			Name:  fields[1],
			State: strings.Join(fields[2:], " "),
		})
	}
	return vms
}

// enrichFromDomInfo fills memory and vcpu detail from `virsh dominfo` output.
// Memory values are reported in KiB.
func enrichFromDomInfo(vm *VM, out string) {
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Max memory":
			if kib, err := strconv.Atoi(strings.Fields(value)[0]); err == nil {
				vm.MemoryMB = kib / 1024
			}
		case "CPU(s)":
			if n, err := strconv.Atoi(value); err == nil {
				vm.VCPUs = n
			}
		case "State":
			vm.State = value
		}
	}
}

// parseVNCDisplay converts `virsh vncdisplay` output (":0" or "127.0.0.1:0")
// into an absolute TCP port.
func parseVNCDisplay(out string) (int, error) {
	display := strings.TrimSpace(out)
	if display == "" {
		return 0, fmt.Errorf("domain has no vnc display")
	}
	idx := strings.LastIndex(display, ":")
	if idx < 0 {
		return 0, fmt.Errorf("unexpected vnc display %q", display)
	}
	n, err := strconv.Atoi(display[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("unexpected vnc display %q", display)
	}
	return vncBasePort + n, nil
}
