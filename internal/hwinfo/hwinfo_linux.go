package hwinfo

import (
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/prometheus/procfs"

	reportmodel "github.com/jellyfin/hwbench/pkg/report/model"
)

var sysClassDRM = "/sys/class/drm"

func collect(info *reportmodel.HWInfo) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		log.Debug("cannot open procfs", "err", err)
		return
	}
	if cpus, err := fs.CPUInfo(); err == nil {
		models := make([]string, 0, len(cpus))
		for _, c := range cpus {
			models = append(models, c.ModelName)
		}
		info.CPUModels = dedup(models)
	} else {
		log.Debug("cannot read cpuinfo", "err", err)
	}
	if mem, err := fs.Meminfo(); err == nil && mem.MemTotal != nil {
		info.MemoryKB = int64(*mem.MemTotal)
	} else if err != nil {
		log.Debug("cannot read meminfo", "err", err)
	}
	info.GPUs = gpus()
}

// gpus lists the PCI addresses of the DRM cards known to the kernel.
func gpus() []string {
	cards, err := filepath.Glob(filepath.Join(sysClassDRM, "card[0-9]*", "device"))
	if err != nil {
		return nil
	}
	var out []string
	for _, c := range cards {
		dev, err := filepath.EvalSymlinks(c)
		if err != nil {
			continue
		}
		out = append(out, filepath.Base(dev))
	}
	return dedup(out)
}
