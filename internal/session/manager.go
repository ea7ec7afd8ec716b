// Package session resolves browser sessions to their upload workflow and
// expires idle ones on a schedule.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"go-bg-remover/internal/logger"
	"go-bg-remover/internal/repository"
	"go-bg-remover/internal/workflow"
)

// ControllerFactory builds the workflow for a newly created session.
type ControllerFactory func(sessionID string) *workflow.Controller

type Manager struct {
	repo          repository.SessionRepository
	newController ControllerFactory
	ttl           time.Duration
	now           func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewManager(repo repository.SessionRepository, factory ControllerFactory, ttl time.Duration) *Manager {
	return &Manager{
		repo:          repo,
		newController: factory,
		ttl:           ttl,
		now:           time.Now,
	}
}

// Resolve returns the session named by sessionID when it exists and belongs
// to userID. Otherwise a fresh session is created; created reports which
// happened so the caller can issue a new cookie.
func (m *Manager) Resolve(ctx context.Context, sessionID, userID string) (*repository.Session, bool, error) {
	now := m.now()

	if sessionID != "" {
		s, err := m.repo.Get(ctx, sessionID)
		switch {
		case err == nil && s.UserID == userID:
			if err := m.repo.Touch(ctx, s.ID, now); err != nil {
				return nil, false, err
			}
			return s, false, nil
		case err != nil && !errors.Is(err, repository.ErrSessionNotFound):
			return nil, false, err
		}
	}

	id := ksuid.New().String()
	s := &repository.Session{
		ID:         id,
		UserID:     userID,
		Controller: m.newController(id),
		CreatedAt:  now,
		LastSeen:   now,
	}
	if err := m.repo.Save(ctx, s); err != nil {
		return nil, false, fmt.Errorf("save session: %w", err)
	}

	logger.WithSession(id).WithField("user_id", userID).Debug("Session created")
	return s, true, nil
}

// Count returns the number of live sessions.
func (m *Manager) Count(ctx context.Context) int {
	return m.repo.Count(ctx)
}

// Sweep deletes sessions idle for longer than the TTL.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	removed, err := m.repo.DeleteIdle(ctx, m.now().Add(-m.ttl))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": m.repo.Count(ctx),
		}).Info("Expired idle sessions")
	}
	return removed, nil
}

// StartSweeper runs Sweep on the given cron schedule, e.g. "@every 5m".
func (m *Manager) StartSweeper(schedule string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return errors.New("session sweeper already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := m.Sweep(context.Background()); err != nil {
			logger.WithError(err).Error("Session sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	m.cron = c
	return nil
}

// StopSweeper stops scheduling sweeps and waits for a running one to finish
// or for ctx to end.
func (m *Manager) StopSweeper(ctx context.Context) {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
