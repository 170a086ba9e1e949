package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/IliaW/cphi-crawler/internal/profile"
	"github.com/IliaW/cphi-crawler/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSearcher struct {
	mu       sync.Mutex
	calls    map[string]int
	timeouts []time.Duration
	outcome  func(p profile.HeaderProfile) (*model.RawPage, error)
	delay    time.Duration
}

func (s *scriptedSearcher) Attempt(_ context.Context, _ string, p profile.HeaderProfile,
	timeout time.Duration) (*model.RawPage, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[p.Name]++
	s.timeouts = append(s.timeouts, timeout)
	s.mu.Unlock()
	time.Sleep(s.delay)
	return s.outcome(p)
}

func testProfiles() []profile.HeaderProfile {
	return []profile.HeaderProfile{
		{Name: "one", Headers: map[string]string{"User-Agent": "one"}},
		{Name: "two", Headers: map[string]string{"User-Agent": "two"}},
		{Name: "three", Headers: map[string]string{"User-Agent": "three"}},
		{Name: "four", Headers: map[string]string{"User-Agent": "four"}},
	}
}

func TestHeaderFallback_SecondProfileWins(t *testing.T) {
	s := &scriptedSearcher{outcome: func(p profile.HeaderProfile) (*model.RawPage, error) {
		if p.Name == "one" {
			return nil, upstream.ErrRetryable
		}
		return &model.RawPage{Results: []model.RawUpstreamItem{{Name: p.Name, Type: "product"}}}, nil
	}}
	h := NewHeaderFallback(s, testProfiles(), time.Millisecond)

	page, err := h.Search(context.Background(), "aspirin", 50*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "two", page.Results[0].Name)
	assert.Equal(t, 1, s.calls["one"])
	assert.Equal(t, 1, s.calls["two"])
	assert.Zero(t, s.calls["three"])
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, s.timeouts)
}

func TestHeaderFallback_AllProfilesFail(t *testing.T) {
	s := &scriptedSearcher{outcome: func(profile.HeaderProfile) (*model.RawPage, error) {
		return nil, upstream.ErrRetryable
	}}
	h := NewHeaderFallback(s, testProfiles(), time.Millisecond)

	_, err := h.Search(context.Background(), "aspirin", 50*time.Millisecond, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnreachable)
	for _, p := range testProfiles() {
		assert.Equal(t, 1, s.calls[p.Name], p.Name)
	}
}

func TestHeaderFallback_BudgetStopsEarly(t *testing.T) {
	s := &scriptedSearcher{
		delay: 30 * time.Millisecond,
		outcome: func(profile.HeaderProfile) (*model.RawPage, error) {
			return nil, upstream.ErrRetryable
		},
	}
	h := NewHeaderFallback(s, testProfiles(), 0)

	_, err := h.Search(context.Background(), "aspirin", 50*time.Millisecond, 45*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnreachable)
	assert.Equal(t, 1, s.calls["one"])
	assert.Equal(t, 1, s.calls["two"])
	assert.Zero(t, s.calls["three"])
	assert.Zero(t, s.calls["four"])
}

func TestHeaderFallback_CooldownBetweenAttempts(t *testing.T) {
	s := &scriptedSearcher{outcome: func(p profile.HeaderProfile) (*model.RawPage, error) {
		if p.Name == "three" {
			return &model.RawPage{}, nil
		}
		return nil, upstream.ErrRetryable
	}}
	h := NewHeaderFallback(s, testProfiles(), 25*time.Millisecond)

	start := time.Now()
	_, err := h.Search(context.Background(), "aspirin", time.Second, 5*time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestHeaderFallback_FatalStopsLoop(t *testing.T) {
	s := &scriptedSearcher{outcome: func(profile.HeaderProfile) (*model.RawPage, error) {
		return nil, errors.Join(upstream.ErrFatal, errors.New("bad endpoint"))
	}}
	h := NewHeaderFallback(s, testProfiles(), 0)

	_, err := h.Search(context.Background(), "aspirin", time.Second, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnreachable)
	assert.Equal(t, 1, s.calls["one"])
	assert.Zero(t, s.calls["two"])
}

func TestHeaderFallback_NoProfiles(t *testing.T) {
	h := NewHeaderFallback(&scriptedSearcher{}, nil, 0)
	_, err := h.Search(context.Background(), "aspirin", time.Second, time.Second)
	assert.ErrorIs(t, err, ErrUpstreamUnreachable)
}
