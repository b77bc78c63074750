package search

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/sonymous/internal/api"
	"github.com/renderinc/sonymous/internal/storage"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()

	idx, err := Open(filepath.Join(t.TempDir(), "messages.bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func record(id int64, content, campus string, likes int) *storage.MessageRecord {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return storage.RecordFromMessage(api.Message{ID: id, Content: content, LikesCount: likes, CreatedAt: now}, campus, now)
}

func TestIndex_SearchFiltersByCampus(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.IndexMessage(record(1, "finals week is brutal", "Bulan", 3)))
	require.NoError(t, idx.IndexMessage(record(2, "good luck on finals everyone", "Main Campus", 8)))
	require.NoError(t, idx.IndexMessage(record(3, "who else loves the canteen", "Bulan", 1)))

	all, err := idx.Search("finals", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	main, err := idx.Search("finals", "Main Campus", 10)
	require.NoError(t, err)
	require.Len(t, main, 1)
	assert.Equal(t, int64(2), main[0].ID)
	assert.Equal(t, "Main Campus", main[0].Campus)
	assert.Equal(t, 8, main[0].LikesCount)
	assert.Equal(t, "good luck on finals everyone", main[0].Content)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	require.NoError(t, idx.Delete(2))
	main, err = idx.Search("finals", "Main Campus", 10)
	require.NoError(t, err)
	assert.Empty(t, main)
}

func TestIndex_RebuildSkipsDeleted(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "sonymous.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for i, content := range []string{"library closes early", "library wifi is down", "cafeteria menu"} {
		require.NoError(t, db.Upsert(record(int64(i+1), content, "Castilla", 0)))
	}
	require.NoError(t, db.MarkDeleted(2, time.Now()))

	idx := openTestIndex(t)
	var last [2]int
	require.NoError(t, idx.Rebuild(db, func(done, total int) { last = [2]int{done, total} }))
	assert.Equal(t, [2]int{2, 2}, last)

	hits, err := idx.Search("library", "Castilla", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].ID)
}
