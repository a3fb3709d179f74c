package appbootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
)

const shutdownGrace = 15 * time.Second

// Run starts the scheduled jobs and the HTTP server and blocks until a
// termination signal, then shuts everything down in order.
func (rt *Runtime) Run() error {
	scheduler := cron.New()
	if rt.Cfg.Housekeeping.Enabled {
		if _, err := scheduler.AddFunc(rt.Cfg.Housekeeping.SessionPurgeSpec, rt.purgeSessions); err != nil {
			return err
		}
		if rt.Cfg.Housekeeping.AuditRetainDays > 0 {
			if _, err := scheduler.AddFunc("@daily", rt.trimAuditLog); err != nil {
				return err
			}
		}
	}
	if rt.feed != nil {
		if _, err := scheduler.AddFunc(rt.Cfg.Feed.PollEvery, rt.pollFeed); err != nil {
			return err
		}
	}
	scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.Server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		rt.Logger.Printf("signal %s, shutting down", sig)
	case runErr = <-errCh:
		if runErr != nil {
			rt.Logger.Errorf("server: %v", runErr)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rt.Server.Shutdown(ctx); err != nil {
		rt.Logger.Errorf("server shutdown: %v", err)
	}
	<-scheduler.Stop().Done()
	rt.Dispatcher.Stop()
	if err := rt.DB.Close(); err != nil {
		rt.Logger.Errorf("db close: %v", err)
	}
	rt.Logger.Sync()
	return runErr
}

func (rt *Runtime) purgeSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := rt.sessions.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		rt.Logger.Errorf("session purge: %v", err)
		return
	}
	if n > 0 {
		rt.Logger.Printf("purged %d expired sessions", n)
	}
}

func (rt *Runtime) trimAuditLog() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cutoff := time.Now().UTC().AddDate(0, 0, -rt.Cfg.Housekeeping.AuditRetainDays)
	n, err := rt.audits.DeleteBefore(ctx, cutoff)
	if err != nil {
		rt.Logger.Errorf("audit trim: %v", err)
		return
	}
	if n > 0 {
		rt.Logger.Printf("trimmed %d audit entries older than %s", n, cutoff.Format(time.RFC3339))
	}
}

func (rt *Runtime) pollFeed() {
	ctx, cancel := context.WithTimeout(context.Background(), rt.Cfg.Feed.Timeout+30*time.Second)
	defer cancel()
	batch, err := rt.feed.Fetch(ctx)
	if err != nil {
		rt.Logger.Errorf("feed poll: %v", err)
		return
	}
	res := rt.processor.ProcessBatch(ctx, batch)
	rt.Logger.Debugf("feed batch processed=%d dropped=%d incidents=%d duplicates=%d",
		res.Processed, res.Dropped, res.Incidents, res.Duplicates)
}
