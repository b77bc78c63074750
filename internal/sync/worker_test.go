package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	gosync "sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/sonymous/internal/api"
	"github.com/renderinc/sonymous/internal/search"
	"github.com/renderinc/sonymous/internal/storage"
)

func newStores(t *testing.T) (*storage.DB, *search.Index) {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.Open(filepath.Join(dir, "sonymous.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	idx, err := search.Open(filepath.Join(dir, "messages.bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	return db, idx
}

// fakeBoard serves `pages` pages of two messages each for campus Bulan
func fakeBoard(t *testing.T, pages int, failPage int) *httptest.Server {
	t.Helper()

	r := mux.NewRouter()
	r.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bulan", r.URL.Query().Get("campus"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == failPage {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		first := (page-1)*2 + 1
		_, _ = w.Write([]byte(`{"status":"success","data":[` +
			`{"id":` + strconv.Itoa(first) + `,"content":"exam stress ` + strconv.Itoa(first) + `","category":"advice","created_at":"2025-03-01T10:00:00Z","likes_count":1},` +
			`{"id":` + strconv.Itoa(first+1) + `,"content":"canteen food","category":null,"created_at":"2025-03-01T09:00:00Z","likes_count":2}` +
			`],"meta":{"current_page":` + strconv.Itoa(page) + `,"last_page":` + strconv.Itoa(pages) + `,"total":` + strconv.Itoa(pages*2) + `}}`))
	}).Methods("GET")

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestWorker_ArchiveAllPages(t *testing.T) {
	db, idx := newStores(t)
	srv := fakeBoard(t, 4, 0)

	w := NewWorker(api.NewClient(srv.URL), db, idx, 3, nil)
	stats, err := w.Archive(context.Background(), Options{Campus: "Bulan"})
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Pages)
	assert.Equal(t, 8, stats.Messages)
	assert.Equal(t, 8, stats.NewMessages)
	assert.Zero(t, stats.Errors)

	count, err := db.Count()
	require.NoError(t, err)
	assert.Equal(t, 8, count)

	rec, err := db.Get(3)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Bulan", rec.Campus)
	assert.Equal(t, "advice", rec.Category)

	hits, err := idx.Search("exam", "Bulan", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 4)

	again, err := w.Archive(context.Background(), Options{Campus: "Bulan"})
	require.NoError(t, err)
	assert.Zero(t, again.NewMessages)
	assert.Equal(t, 8, again.Updated)
}

func TestWorker_PageFailureCountedAndBlocksPrune(t *testing.T) {
	db, idx := newStores(t)
	now := time.Now()
	require.NoError(t, db.Upsert(storage.RecordFromMessage(api.Message{ID: 99, Content: "old"}, "Bulan", now)))

	w := NewWorker(api.NewClient(srv(t, 3, 2)), db, idx, 2, nil)
	stats, err := w.Archive(context.Background(), Options{Campus: "Bulan", Prune: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 2, stats.Pages)
	assert.Zero(t, stats.Pruned)

	rec, err := db.Get(99)
	require.NoError(t, err)
	assert.Nil(t, rec.DeletedAt)
}

func TestWorker_PruneMarksMissingDeleted(t *testing.T) {
	db, idx := newStores(t)
	now := time.Now()
	old := storage.RecordFromMessage(api.Message{ID: 99, Content: "exam gone"}, "Bulan", now)
	require.NoError(t, db.Upsert(old))
	require.NoError(t, idx.IndexMessage(old))

	w := NewWorker(api.NewClient(srv(t, 2, 0)), db, idx, 2, nil)
	stats, err := w.Archive(context.Background(), Options{Campus: "Bulan", Prune: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pruned)
	assert.False(t, stats.PruneSkipped)

	rec, err := db.Get(99)
	require.NoError(t, err)
	assert.NotNil(t, rec.DeletedAt)

	hits, err := idx.Search("gone", "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// shiftingBoard serves newest-first pages of two and posts message 7 right
// after page 1 is served for the first time.
func shiftingBoard(t *testing.T) *httptest.Server {
	t.Helper()

	var (
		mu     gosync.Mutex
		ids    = []int{6, 5, 4, 3, 2, 1}
		posted bool
	)

	r := mux.NewRouter()
	r.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))

		mu.Lock()
		current := append([]int(nil), ids...)
		if page == 1 && !posted {
			posted = true
			ids = append([]int{7}, ids...)
		}
		mu.Unlock()

		lastPage := (len(current) + 1) / 2
		var data []api.Message
		for i := (page - 1) * 2; i < len(current) && i < page*2; i++ {
			data = append(data, api.Message{ID: int64(current[i]), Content: "message " + strconv.Itoa(current[i])})
		}
		writeJSONPage(w, api.MessagePage{Data: data, Meta: api.PageMeta{CurrentPage: page, LastPage: lastPage, Total: len(current)}})
	}).Methods("GET")

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSONPage(w http.ResponseWriter, page api.MessagePage) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": page.Data, "meta": page.Meta})
}

func TestWorker_PruneSkippedWhenFeedMoves(t *testing.T) {
	db, idx := newStores(t)
	now := time.Now()
	for id := int64(1); id <= 6; id++ {
		require.NoError(t, db.Upsert(storage.RecordFromMessage(api.Message{ID: id, Content: "live"}, "Bulan", now)))
	}

	w := NewWorker(api.NewClient(shiftingBoard(t).URL), db, idx, 1, nil)
	stats, err := w.Archive(context.Background(), Options{Campus: "Bulan", Prune: true})
	require.NoError(t, err)

	assert.Zero(t, stats.Errors)
	assert.Zero(t, stats.Pruned)
	assert.True(t, stats.PruneSkipped)

	for id := int64(1); id <= 6; id++ {
		rec, err := db.Get(id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Nil(t, rec.DeletedAt, "message %d", id)
	}
}

func TestWorker_FirstPageFailure(t *testing.T) {
	db, idx := newStores(t)

	w := NewWorker(api.NewClient(srv(t, 3, 1)), db, idx, 2, nil)
	_, err := w.Archive(context.Background(), Options{Campus: "Bulan"})
	require.Error(t, err)

	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, api.KindServer, apiErr.Kind)
}

func TestWorker_MaxPagesAndMirror(t *testing.T) {
	db, idx := newStores(t)

	w := NewWorker(api.NewClient(srv(t, 5, 0)), db, idx, 2, nil)
	w.SetMaxPages(2)
	stats, err := w.Archive(context.Background(), Options{Campus: "Bulan"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)

	n, err := w.Mirror([]api.Message{{ID: 50, Content: "mirrored from the feed", LikesCount: 4}}, "Bulan")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := db.Get(50)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 4, rec.LikesCount)
}

func TestWorker_RequiresCampus(t *testing.T) {
	db, idx := newStores(t)
	w := NewWorker(api.NewClient("http://127.0.0.1:0"), db, idx, 1, nil)
	_, err := w.Archive(context.Background(), Options{})
	require.ErrorIs(t, err, ErrNoCampus)
}

func srv(t *testing.T, pages, failPage int) string {
	return fakeBoard(t, pages, failPage).URL
}
