package storage

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapPathIndex map[string]bool

func (m mapPathIndex) StoragePathExists(ctx context.Context, path string) (bool, error) {
	return m[path], nil
}

func TestSweeper_RunNow_ShouldDeleteOnlyOldUnreferencedBlobs(t *testing.T) {
	// given
	ctx := context.Background()
	local := newTestLocalStorage(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	oldOrphan := newObjectKey("media/", "a.jpg", "", now.Add(-48*time.Hour))
	oldReferenced := newObjectKey("media/", "b.jpg", "", now.Add(-48*time.Hour))
	freshOrphan := newObjectKey("media/", "c.jpg", "", now.Add(-time.Hour))
	foreign := "media/manual-upload.jpg"
	for _, key := range []string{oldOrphan, oldReferenced, freshOrphan, foreign} {
		require.NoError(t, local.Store(ctx, key, bytes.NewReader([]byte("x")), 1, "image/jpeg"))
	}

	sweeper := NewSweeper(local, mapPathIndex{oldReferenced: true}, "media/", SweepConfig{GracePeriod: 24 * time.Hour})
	sweeper.now = func() time.Time { return now }

	// when
	deleted, err := sweeper.RunNow(ctx)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	keys, err := local.List(ctx, "media/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{oldReferenced, freshOrphan, foreign}, keys)
}

func TestSweeper_StartStop(t *testing.T) {
	sweeper := NewSweeper(newTestLocalStorage(t), mapPathIndex{}, "media/", SweepConfig{Interval: time.Hour})

	sweeper.Start(context.Background())
	sweeper.Start(context.Background())
	sweeper.Stop()
	sweeper.Stop()
}
