package widget

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	model "github.com/zhouzirui/smartguard/internal/model/language"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Registry keeps the live widget sessions.
type Registry struct {
	ctx         context.Context
	deps        Deps
	defaultLang model.Code
	logger      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry 创建会话注册表。ctx 结束时所有会话随之取消。
func NewRegistry(ctx context.Context, deps Deps, defaultLang model.Code) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if !model.IsSupported(defaultLang) {
		defaultLang = model.Default
	}
	return &Registry{
		ctx:         ctx,
		deps:        deps,
		defaultLang: defaultLang,
		logger:      logger.Named("widget"),
		sessions:    make(map[string]*Session),
	}
}

// DefaultLanguage is the language new sessions start in when none is given.
func (r *Registry) DefaultLanguage() model.Code {
	return r.defaultLang
}

// Create provisions and loads a session. An empty lang uses the default.
func (r *Registry) Create(lang model.Code, view View) *Session {
	if lang == "" {
		lang = r.defaultLang
	}
	deps := r.deps
	deps.Logger = r.logger

	s := NewSession(r.ctx, uuid.NewString(), lang, view, deps)

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	s.Load()
	r.logger.Info("session created", zap.String("session_id", s.ID()), zap.String("language", string(s.Language())))
	return s
}

// Get looks up a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove closes and forgets a session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	r.logger.Info("session closed", zap.String("session_id", id))
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
