package registry

import (
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// HousekeepingConfig controls periodic registry maintenance.
type HousekeepingConfig struct {
	Schedule           string // cron spec with seconds, e.g. "0 */10 * * * *"
	StaleAfter         time.Duration
	UsageRetentionDays int
}

// Housekeeper releases wedged in-flight flags and prunes old quota counters
// on a cron schedule.
type Housekeeper struct {
	reg       *Registry
	cfg       HousekeepingConfig
	logger    *slog.Logger
	scheduler *cronlib.Cron
}

// NewHousekeeper validates the schedule and returns a stopped Housekeeper.
func NewHousekeeper(reg *Registry, cfg HousekeepingConfig, logger *slog.Logger) (*Housekeeper, error) {
	h := &Housekeeper{
		reg:       reg,
		cfg:       cfg,
		logger:    logger,
		scheduler: cronlib.New(cronlib.WithSeconds()),
	}
	if _, err := h.scheduler.AddFunc(cfg.Schedule, h.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid housekeeping schedule %q: %w", cfg.Schedule, err)
	}
	return h, nil
}

// Start runs one pass immediately and then follows the schedule.
func (h *Housekeeper) Start() {
	h.RunOnce()
	h.scheduler.Start()
}

// Stop halts the schedule and waits for a running pass to finish.
func (h *Housekeeper) Stop() {
	<-h.scheduler.Stop().Done()
}

// RunOnce performs a single maintenance pass.
func (h *Housekeeper) RunOnce() {
	if h.cfg.StaleAfter > 0 {
		released, err := h.reg.ReleaseStale(h.cfg.StaleAfter)
		if err != nil {
			h.logger.Error("release stale in-flight flags", "error", err)
		} else if len(released) > 0 {
			h.logger.Warn("released stale in-flight flags", "users", released)
		}
	}
	if h.cfg.UsageRetentionDays > 0 {
		n, err := h.reg.PruneUsage(h.cfg.UsageRetentionDays)
		if err != nil {
			h.logger.Error("prune daily usage", "error", err)
		} else if n > 0 {
			h.logger.Info("pruned daily usage counters", "removed", n)
		}
	}
}
