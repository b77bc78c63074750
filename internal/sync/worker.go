package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/renderinc/sonymous/internal/api"
	"github.com/renderinc/sonymous/internal/search"
	"github.com/renderinc/sonymous/internal/storage"
)

// ErrNoCampus is returned when Archive is called without a campus
var ErrNoCampus = errors.New("archive: campus is required")

// Source lists feed pages. *api.Client satisfies it.
type Source interface {
	ListMessages(ctx context.Context, q api.MessageQuery) (*api.MessagePage, error)
}

// Worker archives the public feed into the local mirror and search index
type Worker struct {
	src         Source
	db          *storage.DB
	index       *search.Index
	concurrency int
	logger      *slog.Logger
	maxPages    int // Limit for testing (0 = unlimited)
}

// NewWorker creates a new archive worker. index may be nil.
func NewWorker(src Source, db *storage.DB, index *search.Index, concurrency int, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		src:         src,
		db:          db,
		index:       index,
		concurrency: concurrency,
		logger:      logger,
	}
}

// SetMaxPages caps how many pages one Archive call fetches (0 = unlimited)
func (w *Worker) SetMaxPages(n int) {
	w.maxPages = n
}

// Options selects what Archive pulls
type Options struct {
	Campus   string
	Category string
	// Prune marks mirrored messages of the campus that the archive did not
	// see as deleted. Only applied when every page was fetched.
	Prune bool
}

// Stats holds archive statistics
type Stats struct {
	Pages        int
	Messages     int
	NewMessages  int
	Updated      int
	Pruned       int
	PruneSkipped bool // the feed moved during the walk, so nothing was pruned
	Errors       int
	Duration     time.Duration
}

// Archive walks every page of the feed for one campus. Page 1 is fetched
// first to learn the last page; the rest go through a worker pool.
func (w *Worker) Archive(ctx context.Context, opts Options) (*Stats, error) {
	if opts.Campus == "" {
		return nil, ErrNoCampus
	}

	startTime := time.Now()
	stats := &Stats{}
	seen := make(map[int64]struct{})

	w.logger.Info("archive_started", slog.String("campus", opts.Campus), slog.String("category", opts.Category))

	first, err := w.src.ListMessages(ctx, api.MessageQuery{Campus: opts.Campus, Category: opts.Category, Page: 1})
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}

	var mu sync.Mutex
	w.storePage(first.Data, opts.Campus, stats, seen, &mu)
	stats.Pages = 1

	lastPage := first.Meta.LastPage
	if w.maxPages > 0 && lastPage > w.maxPages {
		lastPage = w.maxPages
	}
	w.logger.Info("archive_pages_found", slog.Int("last_page", first.Meta.LastPage), slog.Int("total", first.Meta.Total))

	pageChan := make(chan int, max(lastPage-1, 0))
	for p := 2; p <= lastPage; p++ {
		pageChan <- p
	}
	close(pageChan)

	var wg sync.WaitGroup
	for range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range pageChan {
				if ctx.Err() != nil {
					return
				}
				page, err := w.src.ListMessages(ctx, api.MessageQuery{Campus: opts.Campus, Category: opts.Category, Page: p})
				if err != nil {
					w.logger.Warn("archive_page_failed", slog.Int("page", p), slog.String("error", err.Error()))
					mu.Lock()
					stats.Errors++
					mu.Unlock()
					continue
				}
				w.storePage(page.Data, opts.Campus, stats, seen, &mu)
				mu.Lock()
				stats.Pages++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("archive: %w", err)
	}

	complete := stats.Errors == 0 && lastPage == first.Meta.LastPage && opts.Category == ""
	if opts.Prune && complete {
		if w.unchanged(ctx, opts, first) {
			pruned, err := w.prune(opts.Campus, seen)
			if err != nil {
				return stats, fmt.Errorf("prune: %w", err)
			}
			stats.Pruned = pruned
		} else {
			stats.PruneSkipped = true
			w.logger.Warn("archive_prune_skipped", slog.String("campus", opts.Campus))
		}
	}

	stats.Duration = time.Since(startTime)
	w.logger.Info("archive_complete",
		slog.Int("pages", stats.Pages),
		slog.Int("messages", stats.Messages),
		slog.Int("new", stats.NewMessages),
		slog.Int("updated", stats.Updated),
		slog.Int("pruned", stats.Pruned),
		slog.Int("errors", stats.Errors),
		slog.Duration("dur", stats.Duration),
	)

	return stats, nil
}

// Mirror stores messages a feed view displayed. Returns how many were stored.
func (w *Worker) Mirror(msgs []api.Message, campus string) (int, error) {
	now := time.Now()
	stored := 0
	for _, m := range msgs {
		rec := storage.RecordFromMessage(m, campus, now)
		if err := w.db.Upsert(rec); err != nil {
			return stored, fmt.Errorf("upsert message %d: %w", m.ID, err)
		}
		if w.index != nil {
			if err := w.index.IndexMessage(rec); err != nil {
				return stored, fmt.Errorf("index message %d: %w", m.ID, err)
			}
		}
		stored++
	}
	return stored, nil
}

// storePage upserts one page. Failures are counted, not returned.
func (w *Worker) storePage(msgs []api.Message, campus string, stats *Stats, seen map[int64]struct{}, mu *sync.Mutex) {
	now := time.Now()
	for _, m := range msgs {
		existing, err := w.db.Get(m.ID)
		if err == nil {
			rec := storage.RecordFromMessage(m, campus, now)
			err = w.db.Upsert(rec)
			if err == nil && w.index != nil {
				err = w.index.IndexMessage(rec)
			}
		}

		mu.Lock()
		switch {
		case err != nil:
			w.logger.Warn("archive_message_failed", slog.Int64("message_id", m.ID), slog.String("error", err.Error()))
			stats.Errors++
		default:
			if _, dup := seen[m.ID]; !dup {
				seen[m.ID] = struct{}{}
				stats.Messages++
				if existing == nil {
					stats.NewMessages++
				} else {
					stats.Updated++
				}
			}
		}
		mu.Unlock()
	}
}

// unchanged re-fetches page 1 and reports whether the feed still has the
// shape it had when the walk started.
func (w *Worker) unchanged(ctx context.Context, opts Options, first *api.MessagePage) bool {
	again, err := w.src.ListMessages(ctx, api.MessageQuery{Campus: opts.Campus, Category: opts.Category, Page: 1})
	if err != nil {
		w.logger.Warn("archive_recheck_failed", slog.String("error", err.Error()))
		return false
	}
	if again.Meta.Total != first.Meta.Total || again.Meta.LastPage != first.Meta.LastPage {
		return false
	}
	if len(again.Data) != len(first.Data) {
		return false
	}
	return len(first.Data) == 0 || again.Data[0].ID == first.Data[0].ID
}

func (w *Worker) prune(campus string, seen map[int64]struct{}) (int, error) {
	recs, err := w.db.List(campus, false)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	pruned := 0
	for _, rec := range recs {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		if err := w.db.MarkDeleted(rec.ID, now); err != nil {
			return pruned, err
		}
		if w.index != nil {
			if err := w.index.Delete(rec.ID); err != nil {
				return pruned, err
			}
		}
		pruned++
	}
	return pruned, nil
}
