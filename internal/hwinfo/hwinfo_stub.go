//go:build !linux
// +build !linux

package hwinfo

import (
	reportmodel "github.com/jellyfin/hwbench/pkg/report/model"
)

func collect(*reportmodel.HWInfo) {}
