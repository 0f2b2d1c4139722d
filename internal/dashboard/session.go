package dashboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"academy/internal/attendance"
	"academy/internal/auth"
	"academy/internal/backend"
	"academy/internal/metrics"
)

// Options tunes the per-user workflow.
type Options struct {
	Concurrency   int
	SuccessReset  time.Duration
	IdleTTL       time.Duration
	Location      *time.Location
	DefaultStatus attendance.Status
}

// Session is the marking workflow of one signed-in coach.
type Session struct {
	Auth   *auth.Session
	Client *backend.Client
	Store  *attendance.Store
	Sync   *attendance.SyncController

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Registry keeps one Session per caller, keyed by auth.SessionKey.
type Registry struct {
	base *backend.Client
	opts Options
	log  *zap.Logger
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. base is cloned per user with that
// user's token.
func NewRegistry(base *backend.Client, opts Options, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DefaultStatus == "" {
		opts.DefaultStatus = attendance.StatusNotMarked
	}
	return &Registry{
		base:     base,
		opts:     opts,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for key, creating it on first use. The stored
// token is replaced with the one presented on this request.
func (r *Registry) Get(key, token string, id auth.Identity) *Session {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		s.Auth.SetToken(token)
		s.touch(now)
		return s
	}

	tokens := auth.NewSession(token, id)
	client := r.base.WithTokens(tokens)
	log := r.log.With(zap.String("user", id.UserID))
	store := attendance.NewStore(client,
		attendance.WithLogger(log),
		attendance.WithDefaultStatus(r.opts.DefaultStatus),
		attendance.WithLocation(r.opts.Location),
	)
	s := &Session{
		Auth:   tokens,
		Client: client,
		Store:  store,
		Sync: attendance.NewSyncController(store, client,
			attendance.WithConcurrency(r.opts.Concurrency),
			attendance.WithSuccessReset(r.opts.SuccessReset),
			attendance.WithSyncLogger(log),
			attendance.WithSyncLocation(r.opts.Location),
		),
		lastSeen: now,
	}
	r.sessions[key] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	log.Debug("dashboard session opened")
	return s
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict drops sessions idle for longer than the configured TTL and returns
// how many were removed. A session with a save in progress is kept. A zero
// TTL keeps sessions forever.
func (r *Registry) Evict() int {
	if r.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.opts.IdleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for sub, s := range r.sessions {
		if s.idleSince().Before(cutoff) && !s.Sync.Busy() {
			s.Auth.Clear()
			delete(r.sessions, sub)
			n++
		}
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	if n > 0 {
		r.log.Info("evicted idle dashboard sessions", zap.Int("count", n))
	}
	return n
}

// Run evicts idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Evict()
		}
	}
}
