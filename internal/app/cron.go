package app

import (
	"context"
	"time"

	"github.com/slidecraft/server/internal/modules/generation/images"
	pkgcron "github.com/slidecraft/server/internal/pkg/cron"
	"github.com/slidecraft/server/internal/pkg/nativelog"
	"github.com/slidecraft/server/internal/pkg/session"
	"go.uber.org/zap"
)

const (
	finishedTaskRetention = 7 * 24 * time.Hour
	logRetentionDays      = 14
)

// registerCronJobs registers the maintenance jobs.
func (a *App) registerCronJobs() {
	log := a.logger.Named("CronService")

	if mc, ok := a.images.Cache().(*images.MemoryCache); ok {
		a.sched.Register(pkgcron.Job{
			Name:        "sweep_image_cache",
			Description: "drop expired entries from the in-memory image cache",
			Interval:    time.Hour,
			Fn: func(ctx context.Context) error {
				n, err := mc.Sweep(ctx)
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info("image cache swept", zap.Int("removed", n), zap.Int("remaining", mc.Len()))
				}
				return nil
			},
		})
	}

	a.sched.Register(pkgcron.Job{
		Name:        "purge_finished_generations",
		Description: "delete finished generation tasks older than 7 days",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			n, err := a.tasks.DeleteFinished(ctx, time.Now().Add(-finishedTaskRetention))
			if err != nil {
				return err
			}
			log.Info("finished generations purged", zap.Int("count", n))
			return nil
		},
	})

	a.sched.Register(pkgcron.Job{
		Name:        "purge_expired_sessions",
		Description: "delete expired and revoked login sessions",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			n, err := session.PurgeExpired(a.db, time.Now())
			if err != nil {
				return err
			}
			log.Info("expired sessions purged", zap.Int64("count", n))
			return nil
		},
	})

	a.sched.Register(pkgcron.Job{
		Name:        "prune_logs",
		Description: "remove daily log files older than 14 days",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			removed, err := nativelog.Prune(a.cfg.LogDir(), logRetentionDays, time.Now())
			if err != nil {
				return err
			}
			if len(removed) > 0 {
				log.Info("old logs removed", zap.Strings("files", removed))
			}
			return nil
		},
	})
}
