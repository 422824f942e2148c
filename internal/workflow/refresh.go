package workflow

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Simplici0/retrofit-costing/internal/notify"
)

// StartRefresh polls the owner's records every interval while the session
// shows its summary. A zero interval uses DefaultRefreshInterval; cron
// schedules have one-second resolution.
func (s *Session) StartRefresh(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if interval < time.Second {
		interval = time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.refreshInterval = interval
	if s.scheduler == nil {
		s.startSchedulerLocked()
	}
	return nil
}

// StopRefresh stops polling. Re-entering the summary does not restart it.
func (s *Session) StopRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshInterval = 0
	s.stopSchedulerLocked()
}

// Refreshing reports whether the poll job is scheduled.
func (s *Session) Refreshing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler != nil
}

func (s *Session) startSchedulerLocked() {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log.Sugar()})))
	c.Schedule(cron.Every(s.refreshInterval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.refreshInterval)
		defer cancel()
		if err := s.RefreshRecords(ctx); err != nil {
			s.log.Debug("refresh tick", zap.Error(err))
		}
	}))
	c.Start()
	s.scheduler = c
	s.log.Debug("record refresh scheduled", zap.Duration("interval", s.refreshInterval))
}

func (s *Session) stopSchedulerLocked() {
	if s.scheduler == nil {
		return
	}
	s.scheduler.Stop()
	s.scheduler = nil
}

// RefreshRecords re-fetches the owner's records. Only Records() changes; the
// working selection and the saved snapshot are never touched. A tick that
// overlaps a running one returns ErrRefreshInFlight without fetching.
func (s *Session) RefreshRecords(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateSavedSummary && s.refreshInterval > 0 &&
		s.deps.Now().Sub(s.leftSummaryAt) > s.refreshInterval {
		s.stopSchedulerLocked()
		s.mu.Unlock()
		s.log.Debug("record refresh stopped outside summary")
		return ErrRefreshStopped
	}
	gen, version := s.generation, s.recordsVersion
	s.mu.Unlock()

	if !s.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInFlight
	}
	defer s.refreshing.Store(false)

	records, err := s.deps.Persister.ListRecords(ctx, s.params.SurveyID, s.params.OwnerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		return ErrSessionClosed
	}
	if err != nil {
		s.log.Error("refresh costing records", zap.Error(err))
		s.notify(notify.Error, "Error refreshing costing records", err.Error())
		return &PersistenceError{Op: "list", Err: err}
	}
	if version != s.recordsVersion {
		s.log.Debug("dropping refresh fetched before a save")
		return nil
	}
	s.records = records
	return nil
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
