package pve

// VMSummary is one entry from `pvesh get /cluster/resources --type vm`.
// Sizes come back in bytes.
type VMSummary struct {
	VMID      int     `json:"vmid"`
	Name      string  `json:"name"`
	Node      string  `json:"node"`
	Status    string  `json:"status"`
	MaxMem    int64   `json:"maxmem"`
	MaxDisk   int64   `json:"maxdisk"`
	MaxCPU    float64 `json:"maxcpu"`
	UptimeSec int64   `json:"uptime"`
}

// MaxMemMB returns the configured memory in megabytes.
func (v VMSummary) MaxMemMB() int64 {
	return v.MaxMem / (1024 * 1024)
}

// MaxDiskGB returns the configured boot disk size in gigabytes.
func (v VMSummary) MaxDiskGB() float64 {
	return float64(v.MaxDisk) / (1024 * 1024 * 1024)
}

// CreateOptions are the arguments for defining a new VM.
type CreateOptions struct {
	Name     string
	Cores    int
	MemoryMB int
	Bridge   string
	VLAN     int // 0 means untagged
}

// CloudInitOptions configure the VM's cloud-init drive and network.
// The drive itself needs a storage with the images content type, so it
// lives on the boot-disk storage; only the snippet reference points at
// the snippets storage.
type CloudInitOptions struct {
	Storage         string // storage for the cloud-init drive volume
	SnippetsStorage string
	SnippetName     string
	CIUser          string
	IPConfig        string // value for ipconfig0, e.g. "ip=dhcp"
	DNS             []string
	SearchDomain    string
	SSHKeysFile     string // path to a file holding authorized keys
}

// storageInfo is the subset of `pvesh get /storage/<id>` we care about.
type storageInfo struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Type    string `json:"type"`
}
