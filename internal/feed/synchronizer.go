// Package feed keeps the displayed public feed in sync with the board API.
//
// A Synchronizer owns the feed page state for one view: the filter, the
// ordered items, the page cursor and the loading flags. Filter changes
// replace the items, LoadMore appends the next page and Refresh re-fetches
// the first page on a timer.
//
// Every fetch is tagged with the filter generation it was issued for, and
// first-page fetches also carry a sequence number. Responses for an old
// generation, or older than the latest first-page fetch, are dropped. All
// state changes happen under one lock in response-arrival order.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/renderinc/sonymous/internal/api"
)

// DefaultInterval is the background refresh period.
const DefaultInterval = 30 * time.Second

var (
	ErrNoMorePages = errors.New("feed: no more pages")
	ErrBusy        = errors.New("feed: load more already in progress")
	ErrNotReady    = errors.New("feed: not ready")
	ErrSuperseded  = errors.New("feed: response superseded")
	ErrClosed      = errors.New("feed: closed")
)

// Status is the derived state of the feed.
type Status int

const (
	StatusIdle Status = iota
	StatusLoadingInitial
	StatusLoadingMore
	StatusReady
	StatusEmpty
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoadingInitial:
		return "loading-initial"
	case StatusLoadingMore:
		return "loading-more"
	case StatusReady:
		return "ready"
	case StatusEmpty:
		return "empty"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status name in JSON snapshots.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RefreshMode decides what a background refresh does with pages appended by
// LoadMore.
type RefreshMode int

const (
	// RefreshSplice swaps only the first-page segment and keeps appended pages.
	RefreshSplice RefreshMode = iota
	// RefreshReplace swaps the whole sequence for the new first page while the
	// cursor stays where the user scrolled to.
	RefreshReplace
)

func (m RefreshMode) String() string {
	if m == RefreshReplace {
		return "replace"
	}
	return "splice"
}

// ParseRefreshMode parses "splice" or "replace". Empty means splice.
func ParseRefreshMode(s string) (RefreshMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "splice":
		return RefreshSplice, nil
	case "replace":
		return RefreshReplace, nil
	default:
		return RefreshSplice, fmt.Errorf("unknown refresh mode %q", s)
	}
}

// Filter selects the feed. Campus is required before anything is fetched.
type Filter struct {
	Category string `json:"category"`
	Campus   string `json:"campus"`
}

// Source fetches feed pages. *api.Client satisfies it.
type Source interface {
	ListMessages(ctx context.Context, q api.MessageQuery) (*api.MessagePage, error)
}

// Snapshot is an immutable copy of the feed state.
type Snapshot struct {
	Version   uint64        `json:"version"`
	Filter    Filter        `json:"filter"`
	Items     []api.Message `json:"items"`
	Page      int           `json:"page"`
	LastPage  int           `json:"last_page"`
	Total     int           `json:"total"`
	Status    Status        `json:"status"`
	HasMore   bool          `json:"has_more"`
	LastErr   error         `json:"-"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Options configures a Synchronizer.
type Options struct {
	Interval time.Duration
	Refresh  RefreshMode
	Logger   *slog.Logger
	// OnChange receives every new snapshot. It is called outside the lock;
	// snapshots from concurrent fetches may arrive out of order, compare Version.
	OnChange func(Snapshot)
}

// Synchronizer is the feed page state machine.
type Synchronizer struct {
	src  Source
	opts Options

	mu             sync.Mutex
	filter         Filter
	items          []api.Message
	firstPageLen   int
	page           int
	lastPage       int
	total          int
	loadingInitial bool
	loadingMore    bool
	lastErr        error
	updatedAt      time.Time
	version        uint64

	gen       uint64
	genCtx    context.Context
	genCancel context.CancelFunc
	seq       uint64 // latest first-page fetch issued
	appends   uint64 // pages appended so far in this generation

	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an idle synchronizer over src.
func New(src Source, opts Options) *Synchronizer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	genCtx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		src:       src,
		opts:      opts,
		genCtx:    genCtx,
		genCancel: cancel,
		done:      make(chan struct{}),
	}
}

// SetFilter starts a new generation: items are discarded, the cursor goes
// back to 1 and page 1 is fetched. With an empty campus the feed goes idle
// and nothing is fetched.
func (s *Synchronizer) SetFilter(ctx context.Context, f Filter) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	s.genCancel()
	s.gen++
	s.genCtx, s.genCancel = context.WithCancel(context.Background())
	s.filter = f
	s.items = nil
	s.firstPageLen = 0
	s.page = 1
	s.lastPage = 0
	s.total = 0
	s.loadingMore = false
	s.lastErr = nil
	s.appends = 0

	if f.Campus == "" {
		s.loadingInitial = false
		snap := s.touchLocked()
		s.mu.Unlock()
		s.notify(snap)
		return nil
	}

	s.loadingInitial = true
	s.seq++
	t := s.tagLocked()
	snap := s.touchLocked()
	s.mu.Unlock()
	s.notify(snap)

	s.opts.Logger.Debug("feed_filter_changed",
		slog.String("campus", f.Campus),
		slog.String("category", f.Category),
		slog.Uint64("generation", t.gen),
	)

	page, err := s.fetch(ctx, t, 1)
	return s.applyFirstPage(t, page, err)
}

// Refresh re-fetches page 1 for the current filter without moving the
// cursor. It is a no-op while idle or while the initial page is loading.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.filter.Campus == "" || s.loadingInitial {
		s.mu.Unlock()
		return nil
	}
	s.seq++
	t := s.tagLocked()
	s.mu.Unlock()

	page, err := s.fetch(ctx, t, 1)
	return s.applyFirstPage(t, page, err)
}

// LoadMore fetches the page after the cursor and appends it.
func (s *Synchronizer) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switch {
	case s.filter.Campus == "" || s.loadingInitial:
		s.mu.Unlock()
		return ErrNotReady
	case s.loadingMore:
		s.mu.Unlock()
		return ErrBusy
	case s.page >= s.lastPage:
		s.mu.Unlock()
		return ErrNoMorePages
	}

	next := s.page + 1
	s.loadingMore = true
	t := s.tagLocked()
	snap := s.touchLocked()
	s.mu.Unlock()
	s.notify(snap)

	page, err := s.fetch(ctx, t, next)

	s.mu.Lock()
	if s.closed || t.gen != s.gen {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.loadingMore = false
	if err != nil {
		s.lastErr = err
		snap = s.touchLocked()
		s.mu.Unlock()
		s.notify(snap)
		s.opts.Logger.Warn("feed_load_more_failed", slog.Int("page", next), slog.String("error", err.Error()))
		return err
	}

	s.items = append(s.items, page.Data...)
	s.page = next
	s.lastPage = page.Meta.LastPage
	s.total = page.Meta.Total
	s.lastErr = nil
	s.appends++
	snap = s.touchLocked()
	s.mu.Unlock()
	s.notify(snap)

	s.opts.Logger.Debug("feed_page_appended", slog.Int("page", next), slog.Int("items", len(page.Data)))
	return nil
}

// Run refreshes the feed every Interval until ctx ends or Close is called.
func (s *Synchronizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			// failures are logged and kept in the snapshot
			if err := s.Refresh(ctx); errors.Is(err, ErrClosed) {
				return nil
			}
		}
	}
}

// Close stops Run and turns every outstanding response into a no-op.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.genCancel()
		s.mu.Unlock()
		close(s.done)
	})
}

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Mode returns the refresh policy.
func (s *Synchronizer) Mode() RefreshMode {
	return s.opts.Refresh
}

// fetchTag identifies what a fetch was issued for.
type fetchTag struct {
	gen     uint64
	seq     uint64
	appends uint64
	filter  Filter
	ctx     context.Context
}

func (s *Synchronizer) tagLocked() fetchTag {
	return fetchTag{gen: s.gen, seq: s.seq, appends: s.appends, filter: s.filter, ctx: s.genCtx}
}

// fetch runs outside the lock. The request ends when either the caller's
// context or the generation it belongs to ends.
func (s *Synchronizer) fetch(ctx context.Context, t fetchTag, page int) (*api.MessagePage, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	return s.src.ListMessages(reqCtx, api.MessageQuery{
		Category: t.filter.Category,
		Campus:   t.filter.Campus,
		Page:     page,
	})
}

func (s *Synchronizer) applyFirstPage(t fetchTag, page *api.MessagePage, err error) error {
	s.mu.Lock()
	if s.closed || t.gen != s.gen || t.seq != s.seq {
		s.mu.Unlock()
		s.opts.Logger.Debug("feed_response_discarded", slog.Uint64("generation", t.gen), slog.Uint64("seq", t.seq))
		return ErrSuperseded
	}

	initial := s.loadingInitial
	s.loadingInitial = false

	if err != nil {
		s.lastErr = err
		snap := s.touchLocked()
		s.mu.Unlock()
		s.notify(snap)
		s.opts.Logger.Warn("feed_fetch_failed",
			slog.Bool("initial", initial),
			slog.String("campus", t.filter.Campus),
			slog.String("error", err.Error()),
		)
		return err
	}

	fresh := append([]api.Message(nil), page.Data...)
	switch {
	case initial:
		s.items = fresh
		s.page = 1
	case s.opts.Refresh == RefreshReplace && t.appends == s.appends:
		s.items = fresh
	default:
		// splice, or a replace refresh overtaken by a later append
		rest := s.items[min(s.firstPageLen, len(s.items)):]
		s.items = append(fresh, rest...)
	}
	s.firstPageLen = len(fresh)
	s.lastPage = max(page.Meta.LastPage, s.page)
	s.total = page.Meta.Total
	s.lastErr = nil
	snap := s.touchLocked()
	s.mu.Unlock()
	s.notify(snap)

	s.opts.Logger.Debug("feed_first_page_applied",
		slog.Bool("initial", initial),
		slog.Int("items", len(fresh)),
		slog.Int("last_page", page.Meta.LastPage),
	)
	return nil
}

func (s *Synchronizer) touchLocked() Snapshot {
	s.version++
	s.updatedAt = time.Now()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	return Snapshot{
		Version:   s.version,
		Filter:    s.filter,
		Items:     append([]api.Message{}, s.items...),
		Page:      s.page,
		LastPage:  s.lastPage,
		Total:     s.total,
		Status:    s.statusLocked(),
		HasMore:   s.page < s.lastPage,
		LastErr:   s.lastErr,
		UpdatedAt: s.updatedAt,
	}
}

func (s *Synchronizer) statusLocked() Status {
	switch {
	case s.filter.Campus == "":
		return StatusIdle
	case s.loadingInitial:
		return StatusLoadingInitial
	case s.loadingMore:
		return StatusLoadingMore
	case len(s.items) == 0:
		return StatusEmpty
	default:
		return StatusReady
	}
}

func (s *Synchronizer) notify(snap Snapshot) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(snap)
	}
}
