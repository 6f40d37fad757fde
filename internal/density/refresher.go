package density

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"transitopt/internal/metrics"
	"transitopt/internal/model"
)

// Target receives refreshed densities.
type Target interface {
	Stops() []model.Stop
	UpdateDensity(id model.StopID, value float64) error
}

// Recorder keeps a history of readings.
type Recorder interface {
	RecordDensity(ctx context.Context, readings []model.DensityReading) error
}

// Refresher periodically recomputes the density of every stop for the
// current hour. A failed pass is logged and counted; the next tick retries.
type Refresher struct {
	Provider *Provider
	Target   Target
	History  Recorder                    // optional
	Notify   func([]model.DensityReading) // optional
	Interval time.Duration
	Now      func() time.Time
	Log      *zap.Logger
	Stop     chan struct{}
	// Done is closed once the refresh loop has returned.
	Done     chan struct{}

	stopOnce sync.Once
}

func NewRefresher(p *Provider, t Target, history Recorder, interval time.Duration, log *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Refresher{
		Provider: p,
		Target:   t,
		History:  history,
		Interval: interval,
		Now:      time.Now,
		Log:      log,
		Stop:     make(chan struct{}),
		Done:     make(chan struct{}),
	}
}

func (r *Refresher) Start() {
	go func() {
		defer close(r.Done)
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.Interval)
				_, _ = r.RefreshOnce(ctx)
				cancel()
			}
		}
	}()
}

// Shutdown stops the loop and waits for an in-flight pass to finish.
// Only call it after Start.
func (r *Refresher) Shutdown() {
	r.stopOnce.Do(func() { close(r.Stop) })
	<-r.Done
}

// RefreshOnce updates every stop and returns the readings written to the target.
func (r *Refresher) RefreshOnce(ctx context.Context) ([]model.DensityReading, error) {
	now := r.Now()
	hour := now.Hour()
	ts := now.UTC().Format(time.RFC3339)

	var (
		readings []model.DensityReading
		errs     []error
	)
	for _, s := range r.Target.Stops() {
		v, err := r.Provider.Density(s.ID, hour)
		if err == nil {
			err = r.Target.UpdateDensity(s.ID, v)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("stop %d: %w", s.ID, err))
			continue
		}
		readings = append(readings, model.DensityReading{StopID: s.ID, Density: v, TS: ts})
	}

	if r.History != nil && len(readings) > 0 {
		if err := r.History.RecordDensity(ctx, readings); err != nil {
			errs = append(errs, fmt.Errorf("record history: %w", err))
		}
	}
	if r.Notify != nil && len(readings) > 0 {
		r.Notify(readings)
	}

	if err := errors.Join(errs...); err != nil {
		metrics.DensityRefresh.WithLabelValues("error").Inc()
		r.Log.Warn("density refresh incomplete", zap.Int("updated", len(readings)), zap.Error(err))
		return readings, err
	}
	metrics.DensityRefresh.WithLabelValues("ok").Inc()
	r.Log.Debug("density refreshed", zap.Int("stops", len(readings)), zap.Int("hour", hour))
	return readings, nil
}
