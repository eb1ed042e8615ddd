package clientdata

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupJob(t *testing.T) {
	repo, now := setupRepo(t)
	ctx := context.Background()
	job := NewCleanupJob(repo, zerolog.Nop())
	assert.Equal(t, "cache_cleanup", job.Name())

	require.NoError(t, repo.Store(ctx, TableCurrentPrices, "AAPL", 1, time.Minute))
	*now = now.Add(time.Hour)

	require.NoError(t, job.Run(ctx))

	var v int
	found, err := repo.Get(ctx, TableCurrentPrices, "AAPL", &v)
	require.NoError(t, err)
	assert.False(t, found)
}
