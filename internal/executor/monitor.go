package executor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// monitorResult is what a monitor loop reports once the watched process
// exits or is killed for exceeding its memory budget.
type monitorResult struct {
	peakRSSMB int
	killed    bool
}

// monitorMemory polls pid's RSS every interval until ctx is done, killing
// the process tree (via kill, since the process runs in its own group per
// exec.Cmd.SysProcAttr.Setpgid) the first time RSS exceeds limitMB.
func monitorMemory(ctx context.Context, pid int32, limitMB int, interval time.Duration, kill func() error) *monitorResult {
	result := &monitorResult{}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return result
		case <-ticker.C:
			proc, err := process.NewProcess(pid)
			if err != nil {
				// process has likely already exited
				return result
			}
			mem, err := proc.MemoryInfo()
			if err != nil || mem == nil {
				continue
			}
			rssMB := int(mem.RSS / (1024 * 1024))
			if rssMB > result.peakRSSMB {
				result.peakRSSMB = rssMB
			}
			if limitMB > 0 && rssMB > limitMB {
				result.killed = true
				_ = kill()
				return result
			}
		}
	}
}
