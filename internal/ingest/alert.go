package ingest

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"maintwatch/internal/inbox"
	"maintwatch/pkg/logx"
)

// BellAlerter rings the terminal bell for urgent notifications, at most
// ratePerSec times per second with the given burst.
type BellAlerter struct {
	log logx.Logger

	mu  sync.Mutex
	out io.Writer
	lim *rate.Limiter

	rung    atomic.Uint64
	limited atomic.Uint64
}

func NewBellAlerter(out io.Writer, ratePerSec float64, burst int, log logx.Logger) *BellAlerter {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &BellAlerter{out: out, log: log.With(logx.String("comp", "alert"))}
	b.SetRate(ratePerSec, burst)
	return b
}

// SetRate updates the limiter in place (config hot reload).
func (b *BellAlerter) SetRate(ratePerSec float64, burst int) {
	if ratePerSec <= 0 {
		ratePerSec = 0.2
	}
	if burst <= 0 {
		burst = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lim == nil {
		b.lim = rate.NewLimiter(rate.Limit(ratePerSec), burst)
		return
	}
	b.lim.SetLimit(rate.Limit(ratePerSec))
	b.lim.SetBurst(burst)
}

func (b *BellAlerter) Alert(n inbox.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.lim.AllowN(time.Now(), 1) {
		b.limited.Add(1)
		b.log.Debug("alert rate limited", logx.String("id", n.ID))
		return
	}
	if b.out != nil {
		_, _ = io.WriteString(b.out, "\a")
	}
	b.rung.Add(1)
	b.log.Info("alert", logx.String("priority", n.Priority.String()), logx.String("title", n.Title))
}

// Stats returns how many alerts rang and how many were rate limited.
func (b *BellAlerter) Stats() (rung, limited uint64) {
	return b.rung.Load(), b.limited.Load()
}
