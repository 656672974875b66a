package sysinfo

import (
	"testing"
	"time"
)

func TestCollect(t *testing.T) {
	info := Collect()

	// Hostname should always be available
	if info.Hostname == "" {
		t.Error("Hostname is empty")
	}

	if info.BootTime > time.Now().Unix() {
		t.Errorf("BootTime %d is in the future", info.BootTime)
	}

	t.Logf("Collected: host=%s boot_time=%d", info.Hostname, info.BootTime)
}
