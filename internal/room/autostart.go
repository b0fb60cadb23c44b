package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// AutoStarter periodically starts rooms whose scheduled start time has passed.
type AutoStarter struct {
	sched    gocron.Scheduler
	registry *Registry
	interval time.Duration
}

func NewAutoStarter(r *Registry, interval time.Duration) (*AutoStarter, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	a := &AutoStarter{
		sched:    sched,
		registry: r,
		interval: orDefault(interval, 5*time.Second),
	}

	_, err = sched.NewJob(
		gocron.DurationJob(a.interval),
		gocron.NewTask(a.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("room-auto-start"),
	)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *AutoStarter) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), a.interval)
	defer cancel()

	n, err := a.registry.AutoStart(ctx, time.Now())
	if err != nil {
		slog.WarnContext(ctx, "room: auto-start sweep cut short", "started", n, "interval", a.interval, "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "room: auto-started rooms", "count", n)
	}
}

func (a *AutoStarter) Start() {
	a.sched.Start()
}

func (a *AutoStarter) Stop() error {
	return a.sched.Shutdown()
}
