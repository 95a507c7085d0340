package health

import (
	"context"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
)

// ProcessLimits are the thresholds of ProcessCheck. Zero disables a limit.
type ProcessLimits struct {
	MaxAllocMB    float64 // heap alloc above this → degraded
	MaxGoroutines int     // goroutine count above this → degraded
}

// DefaultProcessLimits suit a single-workspace deployment.
func DefaultProcessLimits() ProcessLimits {
	return ProcessLimits{MaxAllocMB: 500, MaxGoroutines: 500}
}

// ProcessCheck reports degraded when heap usage or the goroutine count
// exceeds its limit. A process over limits still serves, so it never
// reports down.
func ProcessCheck(limits ProcessLimits, logger zerolog.Logger) CheckFunc {
	return func(_ context.Context) Status {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		allocMB := float64(ms.Alloc) / (1024 * 1024)
		goroutines := runtime.NumGoroutine()

		status := StatusOK
		if limits.MaxAllocMB > 0 && allocMB > limits.MaxAllocMB {
			logger.Warn().Float64("alloc_mb", allocMB).Float64("threshold_mb", limits.MaxAllocMB).Msg("high heap allocation")
			status = StatusDegraded
		}
		if limits.MaxGoroutines > 0 && goroutines > limits.MaxGoroutines {
			logger.Warn().Int("goroutines", goroutines).Int("threshold", limits.MaxGoroutines).Msg("high goroutine count")
			status = StatusDegraded
		}
		return status
	}
}

// DiskCheck watches the filesystem holding path. Usage above maxUsedPct is
// degraded; above 98% writes are about to fail and the check reports down.
// Platforms without statfs report ok.
func DiskCheck(path string, maxUsedPct float64, logger zerolog.Logger) CheckFunc {
	return func(_ context.Context) Status {
		usedPct, ok := diskUsage(path)
		if !ok {
			return StatusOK
		}
		logger.Debug().Str("path", path).Float64("used_pct", usedPct).Msg("disk check")
		switch {
		case usedPct > 98:
			return StatusDown
		case usedPct > maxUsedPct:
			logger.Warn().Str("path", path).Float64("used_pct", usedPct).Msg("disk almost full")
			return StatusDegraded
		default:
			return StatusOK
		}
	}
}

func diskUsage(path string) (float64, bool) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, false
	}
	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return 0, false
	}
	free := stat.Bfree * uint64(stat.Bsize)
	return float64(total-free) / float64(total) * 100, true
}
