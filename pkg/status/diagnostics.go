package status

import (
	log "github.com/sirupsen/logrus"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
)

// SystemDiagnostics samples host CPU/memory/load for the heartbeat
// payload's systemDiagnostics field (§4.6). A sampling failure is logged
// and the affected keys are simply omitted; diagnostics are advisory and
// must never block a heartbeat.
func SystemDiagnostics() map[string]interface{} {
	out := make(map[string]interface{})

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		out["cpuPercent"] = percents[0]
	} else if err != nil {
		log.Debugf("[status] cpu diagnostics unavailable: %v", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		out["memTotal"] = vm.Total
		out["memUsedPercent"] = vm.UsedPercent
	} else {
		log.Debugf("[status] memory diagnostics unavailable: %v", err)
	}

	if avg, err := load.Avg(); err == nil {
		out["load1"] = avg.Load1
		out["load5"] = avg.Load5
		out["load15"] = avg.Load15
	} else {
		log.Debugf("[status] load diagnostics unavailable: %v", err)
	}

	return out
}
