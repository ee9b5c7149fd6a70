package orchestrator

// Template is a static catalog entry used to prefill the creation form.
type Template struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MemoryMB int    `json:"memory_mb"`
	VCPUs    int    `json:"vcpus"`
	DiskGB   int    `json:"disk_gb"`
	OSType   string `json:"os_type"`
}

func defaultTemplates() []Template {
	return []Template{
		{ID: "ubuntu-24.04", Name: "Ubuntu 24.04 LTS", MemoryMB: 2048, VCPUs: 2, DiskGB: 20, OSType: "ubuntu-24.04"},
		{ID: "ubuntu-22.04", Name: "Ubuntu 22.04 LTS", MemoryMB: 2048, VCPUs: 2, DiskGB: 20, OSType: "ubuntu-22.04"},
		{ID: "debian-12", Name: "Debian 12", MemoryMB: 1024, VCPUs: 1, DiskGB: 15, OSType: "debian-12"},
		{ID: "alpine", Name: "Alpine Linux", MemoryMB: 512, VCPUs: 1, DiskGB: 5, OSType: "alpine"},
	}
}
