package registry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

const memoryLogFile = "memory_usage.log"

// MemoryGuard watches the resident set size of the process. Before a model
// is loaded it reclaims memory and pauses when usage is above the threshold.
type MemoryGuard struct {
	ThresholdMiB float64
	Pause        time.Duration

	measure func() (float64, error)
	reclaim func()
	logger  *slog.Logger
}

func NewMemoryGuard(cfgSvc config.IService) *MemoryGuard {
	logger := lgr.Logger
	if folder := cfgSvc.GetLogFolder(); folder != "" {
		w := lgr.NewRotatingWriter(folder, memoryLogFile, 10)
		logger = slog.New(slog.NewJSONHandler(w, nil))
	}

	return &MemoryGuard{
		ThresholdMiB: cfgSvc.GetMemoryThresholdMiB(),
		Pause:        cfgSvc.GetMemoryPause(),
		measure:      processRSS,
		reclaim:      freeMemory,
		logger:       logger,
	}
}

// Check measures usage and, above the threshold, reclaims and waits before
// measuring again. It returns the final measurement in MiB.
func (g *MemoryGuard) Check(ctx context.Context) (float64, error) {
	used, err := g.measure()
	if err != nil {
		// Unmeasurable memory never blocks a load
		lgr.Logger.Warn("memory measurement failed", lgr.Err(err))
		return 0, nil
	}

	if g.ThresholdMiB <= 0 || used <= g.ThresholdMiB {
		return used, nil
	}

	g.logger.WarnContext(ctx, "memory above threshold, reclaiming",
		slog.Float64("usedMiB", used),
		slog.Float64("thresholdMiB", g.ThresholdMiB),
	)
	g.reclaim()

	if g.Pause > 0 {
		timer := time.NewTimer(g.Pause)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return used, ctx.Err()
		case <-timer.C:
		}
	}

	used, err = g.measure()
	if err != nil {
		return 0, nil
	}

	g.logger.InfoContext(ctx, "memory after reclaim", slog.Float64("usedMiB", used))
	return used, nil
}

// Log records the current usage against a label
func (g *MemoryGuard) Log(ctx context.Context, label string) {
	used, err := g.measure()
	if err != nil {
		return
	}
	g.logger.InfoContext(ctx, "memory usage "+label, slog.Float64("usedMiB", used))
}

// Usage returns the current usage in MiB
func (g *MemoryGuard) Usage() float64 {
	used, _ := g.measure()
	return used
}

func processRSS() (float64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}

	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}

	return float64(info.RSS) / 1024 / 1024, nil
}

func freeMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

// ProcessMemoryMiB returns the resident set size of the process, or zero when
// it cannot be measured
func ProcessMemoryMiB() float64 {
	used, err := processRSS()
	if err != nil {
		return 0
	}
	return used
}
