package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Simplici0/retrofit-costing/internal/notify"
	"github.com/Simplici0/retrofit-costing/internal/store"
	"github.com/Simplici0/retrofit-costing/internal/workflow"
)

var errSessionNotFound = eris.New("costing session not found")

// sweepInterval is how often idle sessions are looked for.
const sweepInterval = time.Minute

// liveSession is one open costing form and the toasts waiting for its next response.
type liveSession struct {
	id      string
	owner   string
	session *workflow.Session
	notes   *notify.Recorder

	// lastSeen is guarded by sessionManager.mu.
	lastSeen time.Time
}

type sessionManager struct {
	store    *store.SQLite
	log      *zap.Logger
	strict   bool
	interval time.Duration
	// idleTTL closes sessions nobody has touched for this long; zero keeps them.
	idleTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*liveSession
	sweeper  *cron.Cron
}

func newSessionManager(st *store.SQLite, log *zap.Logger, strict bool, interval, idleTTL time.Duration) *sessionManager {
	return &sessionManager{
		store:    st,
		log:      log,
		strict:   strict,
		interval: interval,
		idleTTL:  idleTTL,
		sessions: make(map[string]*liveSession),
	}
}

// startSweeper schedules the idle-session sweep.
func (m *sessionManager) startSweeper() {
	if m.idleTTL <= 0 {
		return
	}
	c := cron.New()
	c.Schedule(cron.Every(sweepInterval), cron.FuncJob(func() {
		if n := m.sweep(time.Now()); n > 0 {
			m.log.Info("closed idle costing sessions", zap.Int("count", n))
		}
	}))
	c.Start()

	m.mu.Lock()
	m.sweeper = c
	m.mu.Unlock()
}

// sweep closes sessions last used more than idleTTL before now.
func (m *sessionManager) sweep(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}
	return m.closeWhere(func(ls *liveSession) bool {
		return now.Sub(ls.lastSeen) > m.idleTTL
	})
}

// closeOwner closes every session of owner, as on logout.
func (m *sessionManager) closeOwner(owner string) int {
	return m.closeWhere(func(ls *liveSession) bool {
		return ls.owner == owner
	})
}

func (m *sessionManager) closeWhere(match func(*liveSession) bool) int {
	m.mu.Lock()
	var stale []*liveSession
	for id, ls := range m.sessions {
		if match(ls) {
			stale = append(stale, ls)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, ls := range stale {
		ls.session.Close()
	}
	return len(stale)
}

func (m *sessionManager) start(ctx context.Context, owner string, params workflow.Params) (*liveSession, error) {
	notes := notify.NewRecorder(notify.NewLogger(m.log))
	params.OwnerID = owner
	s, err := workflow.Start(ctx, workflow.Deps{
		Catalog:   m.store,
		Savings:   m.store,
		Persister: m.store,
		Notifier:  notes,
		Logger:    m.log,
		Strict:    m.strict,
	}, params)
	if err != nil {
		return nil, err
	}
	if err := s.StartRefresh(m.interval); err != nil {
		s.Close()
		return nil, err
	}

	ls := &liveSession{id: uuid.NewString(), owner: owner, session: s, notes: notes, lastSeen: time.Now()}
	m.mu.Lock()
	m.sessions[ls.id] = ls
	m.mu.Unlock()
	return ls, nil
}

func (m *sessionManager) get(id, owner string) (*liveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.sessions[id]
	if !ok || ls.owner != owner {
		return nil, errSessionNotFound
	}
	ls.lastSeen = time.Now()
	return ls, nil
}

func (m *sessionManager) close(id, owner string) error {
	m.mu.Lock()
	ls, ok := m.sessions[id]
	if !ok || ls.owner != owner {
		m.mu.Unlock()
		return errSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	ls.session.Close()
	return nil
}

func (m *sessionManager) closeAll() {
	m.mu.Lock()
	open := m.sessions
	m.sessions = make(map[string]*liveSession)
	sweeper := m.sweeper
	m.sweeper = nil
	m.mu.Unlock()

	if sweeper != nil {
		<-sweeper.Stop().Done()
	}

	for _, ls := range open {
		ls.session.Close()
	}
}
