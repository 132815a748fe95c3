// Package download keeps the live set of one-time download tokens.
package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/utils"
)

// tokenBytes is the entropy of a token; it is rendered as 64 hex chars.
const tokenBytes = 32

var (
	// ErrNotFound is returned for tokens that were never issued, were
	// already redeemed or were swept.  The three cases are deliberately
	// indistinguishable.
	ErrNotFound = errors.New("download token not found")
	// ErrExpired is returned once for a token found past its expiry; the
	// token is removed by the same call.
	ErrExpired = errors.New("download token expired")
)

// Grant is a single-use capability to fetch the artifact.
type Grant struct {
	Token     string    `json:"token"`
	UserID    uint64    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Option configures a TokenStore.
type Option func(*TokenStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *TokenStore) { s.now = now }
}

// TokenStore is an in-memory, mutex-guarded set of grants with an owned
// sweep schedule.  Tokens do not survive a restart.
type TokenStore struct {
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu     sync.Mutex
	tokens map[string]Grant

	cronMu  sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewTokenStore creates a store issuing tokens valid for ttl and sweeping
// expired ones every interval once started.
func NewTokenStore(ttl, interval time.Duration, logger zerolog.Logger, opts ...Option) *TokenStore {
	s := &TokenStore{
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "download-tokens").Logger(),
		tokens:   make(map[string]Grant),
		cron:     cron.New(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TTL returns the lifetime of issued tokens.
func (s *TokenStore) TTL() time.Duration { return s.ttl }

// Issue mints a token for userID.  Earlier tokens of the same user stay
// valid.
func (s *TokenStore) Issue(userID uint64) (Grant, error) {
	raw, err := utils.RandomHex(tokenBytes)
	if err != nil {
		return Grant{}, fmt.Errorf("generate token: %w", err)
	}
	now := s.now().UTC()
	g := Grant{Token: raw, UserID: userID, IssuedAt: now, ExpiresAt: now.Add(s.ttl)}

	s.mu.Lock()
	s.tokens[raw] = g
	s.mu.Unlock()
	return g, nil
}

// Redeem removes token from the live set and returns its grant.  The check
// and the removal happen under one lock, so concurrent redemptions of the
// same token succeed at most once.
func (s *TokenStore) Redeem(token string) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.tokens[token]
	if !ok {
		return Grant{}, ErrNotFound
	}
	delete(s.tokens, token)
	if s.now().After(g.ExpiresAt) {
		return Grant{}, ErrExpired
	}
	return g, nil
}

// Sweep evicts every expired token and returns how many were removed.
func (s *TokenStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, g := range s.tokens {
		if now.After(g.ExpiresAt) {
			delete(s.tokens, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tokens in the live set.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Start schedules the periodic sweep.
func (s *TokenStore) Start() error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()

	if s.running {
		return errors.New("download token sweep already running")
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.runSweep); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().Dur("interval", s.interval).Dur("ttl", s.ttl).Msg("download token sweep started")
	return nil
}

// Stop stops the sweep schedule.  The returned context is done once a
// running sweep has finished.
func (s *TokenStore) Stop() context.Context {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.running = false
	s.logger.Info().Msg("stopping download token sweep")
	return s.cron.Stop()
}

func (s *TokenStore) runSweep() {
	if n := s.Sweep(); n > 0 {
		s.logger.Debug().Int("removed", n).Int("live", s.Len()).Msg("expired download tokens swept")
	}
}
