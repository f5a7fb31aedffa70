// Package hwinfo collects a fingerprint of the machine running the benchmark
// and matches it against the platforms known to the test server.
package hwinfo

import (
	"errors"
	"runtime"
	"strings"

	"github.com/jellyfin/hwbench/pkg/api/model"
	reportmodel "github.com/jellyfin/hwbench/pkg/report/model"
)

// ErrNoPlatform is returned when no supported platform matches this machine.
var ErrNoPlatform = errors.New("no supported platform matches this system")

// Collect returns the hardware information for the current machine. Details
// that cannot be read are left empty.
func Collect() reportmodel.HWInfo {
	info := reportmodel.HWInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCount:     runtime.NumCPU(),
	}
	collect(&info)
	return info
}

// MatchPlatform returns the first supported platform whose name is goos and
// whose architecture is either empty or goarch. Comparisons ignore case.
func MatchPlatform(platforms []model.Platform, goos, goarch string) (model.Platform, error) {
	for _, p := range platforms {
		if !p.Supported {
			continue
		}
		if !strings.EqualFold(p.Name, goos) {
			continue
		}
		if p.Architecture != "" && !strings.EqualFold(p.Architecture, goarch) {
			continue
		}
		return p, nil
	}
	return model.Platform{}, ErrNoPlatform
}

// dedup returns the distinct non-empty values of s, in order.
func dedup(s []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range s {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
