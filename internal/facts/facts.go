// Package facts observes platform-identifying attributes of reachable nodes.
// Facts are gathered once per run and drive conditional task dispatch.
package facts

// Canonical attribute names.
const (
	AttrPlatform        = "platform"
	AttrPlatformFamily  = "platform_family"
	AttrPlatformVersion = "platform_version"
	AttrKernel          = "kernel"
	AttrArchitecture    = "architecture"
	AttrHostname        = "hostname"
)

// Facts is a typed attribute mapping for one node. Conditions evaluate as
// pure predicates over it.
type Facts map[string]string

// Get returns the attribute value, empty when absent.
func (f Facts) Get(attr string) string {
	return f[attr]
}

// PlatformFamily returns the distribution family (debian, redhat, alpine, …).
func (f Facts) PlatformFamily() string {
	return f[AttrPlatformFamily]
}

// Clone returns an independent copy.
func (f Facts) Clone() Facts {
	out := make(Facts, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// familyByID maps os-release IDs (and ID_LIKE entries) to families.
var familyByID = map[string]string{
	"debian":    "debian",
	"ubuntu":    "debian",
	"raspbian":  "debian",
	"rhel":      "redhat",
	"centos":    "redhat",
	"fedora":    "redhat",
	"rocky":     "redhat",
	"alma":      "redhat",
	"almalinux": "redhat",
	"alpine":    "alpine",
	"opensuse":  "suse",
	"sles":      "suse",
	"arch":      "arch",
}
