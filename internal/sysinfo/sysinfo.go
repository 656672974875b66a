// Package sysinfo collects the host facts a beacon attaches to its payload.
package sysinfo

import (
	"os"

	"github.com/shirou/gopsutil/v3/host"
)

// SystemInfo holds host identity used for beacon diagnostics.
type SystemInfo struct {
	Hostname string
	BootTime int64
}

// Collect gathers local host facts. Facts that cannot be read are left empty.
func Collect() SystemInfo {
	var info SystemInfo

	hostInfo, err := host.Info()
	if err == nil {
		info.Hostname = hostInfo.Hostname
		info.BootTime = int64(hostInfo.BootTime)
	}

	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}
	if info.BootTime == 0 {
		if bt, err := host.BootTime(); err == nil {
			info.BootTime = int64(bt)
		}
	}

	return info
}
