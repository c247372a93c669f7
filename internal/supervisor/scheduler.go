// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"

	"github.com/go-co-op/gocron/v2"

	"github.com/chponte/libreeye/internal/rerror"
)

// startScheduler builds and starts the cooperative scheduler that drives
// the two periodic jobs named in 4.6 CameraSupervisor: a retention sweep
// every RetentionSweepInterval and a watchdog tick every WatchdogInterval.
// The caller is responsible for calling Shutdown on the returned scheduler.
//
// Reference: daemon/daemon.py's _clean_storage_and_schedule, which
// re-schedules itself every 86400 seconds via Python's sched module; here
// generalized onto gocron's job scheduler and given a sibling watchdog job
// the original never had.
func (s *Supervisor) startScheduler(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, rerror.Wrap(rerror.KindInternal, "create scheduler", err)
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(s.cfg.RetentionSweepInterval),
		gocron.NewTask(func() { s.retentionSweep(ctx) }),
		gocron.WithName("retention-sweep"),
	); err != nil {
		return nil, rerror.Wrap(rerror.KindInternal, "schedule retention sweep", err)
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(s.cfg.WatchdogInterval),
		gocron.NewTask(s.watchdogTick),
		gocron.WithName("watchdog"),
	); err != nil {
		return nil, rerror.Wrap(rerror.KindInternal, "schedule watchdog", err)
	}

	sched.Start()
	return sched, nil
}
