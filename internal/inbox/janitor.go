package inbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"maintwatch/pkg/logx"
)

type RetentionConfig struct {
	Enabled  bool
	Schedule string
	MaxAge   time.Duration
	ReadOnly bool
}

func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		Enabled:  true,
		Schedule: "@every 1h",
		MaxAge:   30 * 24 * time.Hour,
		ReadOnly: true,
	}
}

// Janitor prunes old notifications on a cron schedule.
type Janitor struct {
	store *Store
	log   logx.Logger
	now   func() time.Time

	mu  sync.Mutex
	cfg RetentionConfig
	c   *cron.Cron
}

func NewJanitor(store *Store, cfg RetentionConfig, log logx.Logger) *Janitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Janitor{store: store, cfg: cfg, log: log.With(logx.String("comp", "janitor")), now: time.Now}
}

var retentionParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Start schedules the sweep. It is a no-op when retention is disabled.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil || !j.cfg.Enabled || j.cfg.MaxAge <= 0 {
		return nil
	}
	spec := strings.TrimSpace(j.cfg.Schedule)
	if spec == "" {
		spec = DefaultRetention().Schedule
	}
	c := cron.New(cron.WithParser(retentionParser))
	if _, err := c.AddFunc(spec, func() { j.Sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	j.c = c
	j.log.Info("retention scheduled",
		logx.String("schedule", spec),
		logx.Duration("max_age", j.cfg.MaxAge),
		logx.Bool("read_only", j.cfg.ReadOnly),
	)
	return nil
}

func (j *Janitor) Stop(ctx context.Context) {
	j.mu.Lock()
	c := j.c
	j.c = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the retention policy, rescheduling if it is running.
func (j *Janitor) Apply(ctx context.Context, cfg RetentionConfig) error {
	j.mu.Lock()
	running := j.c != nil
	j.cfg = cfg
	j.mu.Unlock()
	if !running {
		return nil
	}
	j.Stop(ctx)
	return j.Start(ctx)
}

// Sweep runs one prune pass and returns the number of removed entries.
func (j *Janitor) Sweep(ctx context.Context) int {
	j.mu.Lock()
	cfg := j.cfg
	j.mu.Unlock()
	if cfg.MaxAge <= 0 {
		return 0
	}
	cutoff := j.now().Add(-cfg.MaxAge)
	n, err := j.store.Prune(ctx, cutoff, cfg.ReadOnly)
	if err != nil {
		j.log.Warn("retention sweep failed", logx.Err(err))
		return 0
	}
	if n > 0 {
		j.log.Info("retention sweep", logx.Int("removed", n), logx.Time("cutoff", cutoff))
	}
	return n
}

// ValidateSchedule reports whether spec is a cron expression or descriptor
// the janitor accepts.
func ValidateSchedule(spec string) error {
	_, err := retentionParser.Parse(strings.TrimSpace(spec))
	return err
}
