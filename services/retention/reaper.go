// Package retentionsvc periodically deletes attendance sessions older than the configured max age.
package retentionsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/proxyguard/core"
)

const runTimeout = 4 * time.Minute

// Purger deletes sessions dated more than maxAge ago and returns how many were deleted.
type Purger interface {
	PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int64, error)
}

type Reaper struct {
	cron     *cron.Cron
	purger   Purger
	maxAge   time.Duration
	schedule string
	logger   core.Logger
}

// NewReaper schedules the purge job. The job is not registered when the max age is 0.
func NewReaper(purger Purger, conf *core.Config, logger core.Logger) (*Reaper, error) {
	cl := cronLogger{logger: logger}
	r := &Reaper{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		purger:   purger,
		maxAge:   conf.Retention.MaxAge,
		schedule: conf.Retention.Schedule,
		logger:   logger,
	}
	if !r.Enabled() {
		return r, nil
	}

	if _, err := r.cron.AddFunc(r.schedule, r.run); err != nil {
		return nil, errors.Wrapf(err, "scheduling retention job %q", r.schedule)
	}
	return r, nil
}

func (r *Reaper) Enabled() bool {
	return r.maxAge > 0
}

// Run purges old sessions once.
func (r *Reaper) Run(ctx context.Context) (int64, error) {
	n, err := r.purger.PurgeOlderThan(ctx, r.maxAge)
	if err != nil {
		return 0, errors.Wrap(err, "running retention job")
	}
	return n, nil
}

func (r *Reaper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	n, err := r.Run(ctx)
	if err != nil {
		r.logger.Error(err.Error(), err)
		return
	}
	r.logger.Info(fmt.Sprintf("retention: deleted %d sessions older than %s", n, r.maxAge))
}

// Start runs the scheduler in its own goroutine. No-op when disabled.
func (r *Reaper) Start() {
	if !r.Enabled() {
		return
	}
	r.logger.Info(fmt.Sprintf("retention: started schedule=%q maxAge=%s", r.schedule, r.maxAge))
	r.cron.Start()
}

// Stop stops the scheduler; the returned context is done once the running job (if any) completes.
func (r *Reaper) Stop() context.Context {
	return r.cron.Stop()
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvExtras(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvExtras(keysAndValues))
}

func kvExtras(keysAndValues []interface{}) map[string]interface{} {
	extras := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		extras[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return extras
}
