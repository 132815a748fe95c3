package download

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(clock *fakeClock) *TokenStore {
	return NewTokenStore(600*time.Second, time.Minute, zerolog.Nop(), WithClock(clock.Now))
}

func TestRedeemIsSingleUse(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newStore(clock)

	g, err := s.Issue(7)
	require.NoError(t, err)
	assert.Len(t, g.Token, 64)
	assert.Equal(t, g.IssuedAt.Add(600*time.Second), g.ExpiresAt)

	got, err := s.Redeem(g.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.UserID)

	_, err = s.Redeem(g.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Redeem("never-issued")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedeemAfterExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newStore(clock)

	g, err := s.Issue(1)
	require.NoError(t, err)
	clock.Advance(601 * time.Second)

	_, err = s.Redeem(g.Token)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, 0, s.Len())

	_, err = s.Redeem(g.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedeemAtExactExpiryStillValid(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newStore(clock)

	g, err := s.Issue(1)
	require.NoError(t, err)
	clock.Advance(600 * time.Second)
	_, err = s.Redeem(g.Token)
	assert.NoError(t, err)
}

func TestTokensCoexistAndSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newStore(clock)

	a, err := s.Issue(1)
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	b, err := s.Issue(1)
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
	assert.Equal(t, 2, s.Len())

	clock.Advance(5*time.Minute + time.Second)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())

	_, err = s.Redeem(a.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Redeem(b.Token)
	assert.NoError(t, err)
}

func TestConcurrentRedeemSucceedsOnce(t *testing.T) {
	s := NewTokenStore(time.Minute, time.Minute, zerolog.Nop())
	g, err := s.Issue(1)
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Redeem(g.Token); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestStartStop(t *testing.T) {
	s := NewTokenStore(time.Minute, time.Minute, zerolog.Nop())
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	<-s.Stop().Done()
	select {
	case <-s.Stop().Done():
	default:
		t.Fatal("stopping a stopped store must return a done context")
	}
}
