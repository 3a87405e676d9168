// Package janitor periodically deletes expired and revoked OAuth rows.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bloveless/esp32-iot-desk/internal/observability"
)

type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (codes int64, tokens int64, err error)
}

type Janitor struct {
	purger Purger
	cron   *cron.Cron
	now    func() time.Time
}

// New schedules a purge on a standard cron spec (descriptors such as
// "@hourly" are accepted).
func New(purger Purger, schedule string) (*Janitor, error) {
	j := &Janitor{purger: purger, cron: cron.New(), now: time.Now}
	if _, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, _, err := j.RunOnce(ctx); err != nil {
			slog.Error("oauth purge failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running purge to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) RunOnce(ctx context.Context) (codes, tokens int64, err error) {
	codes, tokens, err = j.purger.PurgeExpired(ctx, j.now().UTC())
	if err != nil {
		return 0, 0, err
	}
	observability.PurgedCounter.WithLabelValues("authorization_code").Add(float64(codes))
	observability.PurgedCounter.WithLabelValues("token").Add(float64(tokens))
	if codes > 0 || tokens > 0 {
		slog.Info("oauth rows purged", "codes", codes, "tokens", tokens)
	}
	return codes, tokens, nil
}
