package scan

// baseToDistro maps a snap base to the Ubuntu release grype should match
// against. Bases without a mapping scan without a distro hint.
var baseToDistro = map[string]string{
	"core":   "ubuntu:16.04",
	"core16": "ubuntu:16.04",
	"core18": "ubuntu:18.04",
	"core20": "ubuntu:20.04",
	"core22": "ubuntu:22.04",
	"core24": "ubuntu:24.04",
}

// DistroForBase returns the distro hint for a base, or "" when the base is
// unknown or empty.
func DistroForBase(base string) string {
	return baseToDistro[base]
}
