package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%Aspirin%", likePattern("Aspirin"))
	assert.Equal(t, `%100\% pure\_api%`, likePattern("100% pure_api"))
	assert.Equal(t, `%a\\b%`, likePattern(`a\b`))
}

func TestWithTimeout(t *testing.T) {
	cr := NewCatalogRepository(nil, 50*time.Millisecond)
	ctx, cancel := cr.withTimeout(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)

	cr = NewCatalogRepository(nil, 0)
	ctx, cancel = cr.withTimeout(context.Background())
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}
