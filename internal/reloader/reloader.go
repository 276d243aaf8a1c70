package reloader

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Target is the artifact owner the reloader keeps trying to populate.
type Target interface {
	Loaded() bool
	Reload() error
}

// Reloader retries artifact loading on a fixed interval while artifacts are absent.
// Once loaded it stays idle; an explicit reload is an operator action.
type Reloader struct {
	Target   Target
	Interval time.Duration
	Log      *logrus.Logger
}

func (r *Reloader) Run(ctx context.Context) {
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.tick()
		}
	}
}

func (r *Reloader) tick() {
	if r.Target.Loaded() {
		return
	}
	if err := r.Target.Reload(); err != nil {
		r.Log.WithError(err).WithField("retry_in", r.Interval.String()).Warn("reloader: artifacts still unavailable")
		return
	}
	r.Log.Info("reloader: artifacts loaded")
}
