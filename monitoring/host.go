package monitoring

import (
	"fmt"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// HostSampler reads CPU and memory usage of the local machine.
type HostSampler struct{}

func (HostSampler) Sample() (float64, float64, error) {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, fmt.Errorf("sample cpu: %w", err)
	}
	if len(cpuPercents) == 0 {
		return 0, 0, fmt.Errorf("sample cpu: no readings")
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, fmt.Errorf("sample memory: %w", err)
	}
	return cpuPercents[0] / 100, vm.UsedPercent / 100, nil
}
