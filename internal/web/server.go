package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/renderinc/sonymous/internal/api"
	"github.com/renderinc/sonymous/internal/compose"
	"github.com/renderinc/sonymous/internal/feed"
	"github.com/renderinc/sonymous/internal/like"
	"github.com/renderinc/sonymous/internal/search"
	"github.com/renderinc/sonymous/internal/storage"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// FeedState is the feed a page shows. *feed.Synchronizer satisfies it.
type FeedState interface {
	Snapshot() feed.Snapshot
	SetFilter(ctx context.Context, f feed.Filter) error
	LoadMore(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// BoardAPI is the part of the API client the UI calls directly
type BoardAPI interface {
	ListAnnouncements(ctx context.Context) ([]api.Announcement, error)
	CreateMessage(ctx context.Context, msg api.NewMessage) (*api.Message, error)
}

// Deps wires the server. DB and Index may be nil.
type Deps struct {
	Feed           FeedState
	Likes          *like.Board
	API            BoardAPI
	DB             *storage.DB
	Index          *search.Index
	Hub            *Hub
	AllowedOrigins []string
	Logger         *slog.Logger
}

type Server struct {
	feed      FeedState
	likes     *like.Board
	api       BoardAPI
	db        *storage.DB
	idx       *search.Index
	hub       *Hub
	origins   []string
	logger    *slog.Logger
	templates *template.Template
}

// FeedView is the feed snapshot as the browser sees it: like counts come
// from the like controllers so optimistic values show.
type FeedView struct {
	feed.Snapshot
	Liked  []int64 `json:"liked"`
	Locked []int64 `json:"locked"`
	Error string  `json:"error,omitempty"`
}

type filterRequest struct {
	Campus   string `json:"campus"`
	Category string `json:"category"`
}

type postRequest struct {
	Content  string `json:"content"`
	Category string `json:"category"`
	Campus   string `json:"campus"`
}

type likeResponse struct {
	ID         int64  `json:"id"`
	LikesCount int    `json:"likes_count"`
	Liked      bool   `json:"liked"`
	Locked     bool   `json:"locked"`
	Error      string `json:"error,omitempty"`
}

func NewServer(deps Deps) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("error parsing templates: %w", err)
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.Logger)
	}

	return &Server{
		feed:      deps.Feed,
		likes:     deps.Likes,
		api:       deps.API,
		db:        deps.DB,
		idx:       deps.Index,
		hub:       deps.Hub,
		origins:   deps.AllowedOrigins,
		logger:    deps.Logger,
		templates: tmpl,
	}, nil
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Static files
	r.PathPrefix("/static/").Handler(http.FileServer(http.FS(staticFS)))

	// Routes
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/api/feed", s.handleFeed).Methods("GET")
	r.HandleFunc("/api/feed/filter", s.handleFilter).Methods("POST")
	r.HandleFunc("/api/feed/more", s.handleLoadMore).Methods("POST")
	r.HandleFunc("/api/feed/refresh", s.handleRefresh).Methods("POST")
	r.HandleFunc("/api/messages", s.handlePost).Methods("POST")
	r.HandleFunc("/api/messages/{id:[0-9]+}/like", s.handleLike).Methods("POST")
	r.HandleFunc("/api/announcements", s.handleAnnouncements).Methods("GET")
	r.HandleFunc("/api/search", s.handleSearch).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	})

	return c.Handler(r)
}

// FeedView builds the browser view of a snapshot
func (s *Server) FeedView(snap feed.Snapshot) FeedView {
	view := FeedView{Snapshot: snap, Liked: []int64{}, Locked: []int64{}}
	if s.likes != nil {
		view.Items = s.likes.Overlay(snap.Items)
		for _, m := range snap.Items {
			c, ok := s.likes.Get(m.ID)
			if !ok {
				continue
			}
			if c.Liked() {
				view.Liked = append(view.Liked, m.ID)
			}
			if c.Locked() {
				view.Locked = append(view.Locked, m.ID)
			}
		}
	}
	if snap.LastErr != nil {
		view.Error = api.UserMessage(snap.LastErr, api.Phrases{Fallback: "Failed to load messages.", Network: "Network error."})
	}
	return view
}

// PublishFeed pushes a snapshot to every browser
func (s *Server) PublishFeed(snap feed.Snapshot) {
	s.hub.Publish(Event{Type: EventFeedUpdated, Data: s.FeedView(snap)})
}

// PublishLike pushes one like counter to every browser
func (s *Server) PublishLike(id int64, count int) {
	s.hub.Publish(Event{Type: EventLikeUpdated, Data: likeResponse{ID: id, LikesCount: count}})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"Campuses":   api.Campuses,
		"Categories": api.Categories,
		"Filter":     s.feed.Snapshot().Filter,
		"MaxLength":  compose.MaxContentLength,
		"HasSearch":  s.idx != nil,
	}

	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("template_render_failed", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.FeedView(s.feed.Snapshot()))
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Campus != "" && !api.IsCampus(req.Campus) {
		writeError(w, http.StatusUnprocessableEntity, "unknown campus")
		return
	}
	if req.Category != "" && !api.IsCategory(req.Category) {
		writeError(w, http.StatusUnprocessableEntity, "unknown category")
		return
	}

	// errors are part of the snapshot
	_ = s.feed.SetFilter(r.Context(), feed.Filter{Campus: req.Campus, Category: req.Category})
	writeJSON(w, http.StatusOK, s.FeedView(s.feed.Snapshot()))
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	err := s.feed.LoadMore(r.Context())
	switch {
	case errors.Is(err, feed.ErrNoMorePages), errors.Is(err, feed.ErrBusy), errors.Is(err, feed.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.FeedView(s.feed.Snapshot()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	_ = s.feed.Refresh(r.Context())
	writeJSON(w, http.StatusOK, s.FeedView(s.feed.Snapshot()))
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := compose.Submit(r.Context(), s.api, compose.Draft{
		Content:  req.Content,
		Category: req.Category,
		Campus:   req.Campus,
	})
	if err != nil {
		status := http.StatusUnprocessableEntity
		var verr *compose.ValidationError
		if !errors.As(err, &verr) {
			status = statusFor(err)
		}
		writeError(w, status, compose.UserMessage(err))
		return
	}

	s.logger.Info("message_posted", slog.Int64("message_id", created.ID), slog.String("campus", created.Campus))
	if snap := s.feed.Snapshot(); snap.Filter.Campus == created.Campus {
		_ = s.feed.Refresh(r.Context())
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	if s.likes == nil {
		writeError(w, http.StatusServiceUnavailable, "likes unavailable")
		return
	}

	count, err := s.likes.Like(r.Context(), id)
	resp := likeResponse{ID: id, LikesCount: count}
	if c, ok := s.likes.Get(id); ok {
		resp.Liked = c.Liked()
		resp.Locked = c.Locked()
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, like.ErrUnknownMessage), errors.Is(err, like.ErrDetached):
		writeError(w, http.StatusNotFound, "message not displayed")
	case errors.Is(err, like.ErrInFlight), errors.Is(err, like.ErrAlreadyLiked):
		resp.Error = err.Error()
		writeJSON(w, http.StatusConflict, resp)
	default:
		// rolled back silently; the count is the pre-gesture value
		writeJSON(w, statusFor(err), resp)
	}
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	list, err := s.api.ListAnnouncements(r.Context())
	if err != nil {
		s.logger.Warn("announcements_fetch_failed", slog.String("error", err.Error()))
		list = []api.Announcement{}
	}

	active := make([]api.Announcement, 0, len(list))
	for _, a := range list {
		if a.IsActive {
			active = append(active, a)
		}
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")

	if s.idx == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `<div class="error">
			<strong>Error:</strong> Search index not available
		</div>`)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		// Return empty state HTML
		fmt.Fprint(w, `<div class="empty-state">
			<p>Search messages you have already seen or archived</p>
			<div class="tips">
				<h3>Search Tips:</h3>
				<ul>
					<li><strong>"exact phrase"</strong> - Search for exact phrases</li>
					<li><strong>exam~</strong> - Fuzzy matching (finds typos)</li>
					<li><strong>+library -wifi</strong> - Require or exclude terms</li>
				</ul>
			</div>
		</div>`)
		return
	}

	campus := r.URL.Query().Get("campus")
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	results, err := s.idx.Search(query, campus, limit)
	if err != nil {
		fmt.Fprintf(w, `<div class="error">
			<strong>Error:</strong> Search failed: %s
		</div>`, template.HTMLEscapeString(err.Error()))
		return
	}

	if len(results) == 0 {
		fmt.Fprintf(w, `<div class="no-results">
			<p>No results found for "<strong>%s</strong>"</p>
			<p class="hint">Try different keywords or use fuzzy search with ~ suffix</p>
		</div>`, template.HTMLEscapeString(query))
		return
	}

	// Results header
	fmt.Fprintf(w, `<div class="results-header">
		<p>Found <strong>%d</strong> results for "<strong>%s</strong>"</p>
	</div>`, len(results), template.HTMLEscapeString(query))

	for i, result := range results {
		// Highlighted preview when available
		preview := template.HTMLEscapeString(result.Content)
		if fragments, ok := result.Fragments["Content"]; ok && len(fragments) > 0 {
			preview = fragments[0]
		}

		fmt.Fprintf(w, `<div class="result-card">
			<div class="result-number">%d</div>
			<div class="result-content">
				<p class="result-meta">%s`,
			i+1, template.HTMLEscapeString(result.Campus))
		if result.Category != "" {
			fmt.Fprintf(w, ` · <span class="tag">%s</span>`, template.HTMLEscapeString(result.Category))
		}
		fmt.Fprintf(w, `</p>
				<p class="result-preview">%s</p>
				<div class="result-footer">
					<span class="result-likes">♥ %d</span>
					<span class="result-date">%s</span>
				</div>
			</div>
		</div>`, template.HTML(preview), result.LikesCount, result.CreatedAt.Format("Jan 2, 2006 15:04"))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := newUpgrader(s.origins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	welcome := func() Event {
		return Event{Type: EventFeedUpdated, Data: s.FeedView(s.feed.Snapshot())}
	}
	if err := s.hub.Join(r.Context(), conn, welcome); err != nil {
		s.logger.Debug("ws_join_failed", slog.String("error", err.Error()))
		conn.Close()
		return
	}
	s.logger.Debug("ws_connected", slog.Int("clients", s.hub.Count()))

	// Read until the client goes away (keep-alive only)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			remaining := s.hub.remove(conn)
			s.logger.Debug("ws_disconnected", slog.Int("clients", remaining))
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":      "ok",
		"feed_status": s.feed.Snapshot().Status,
		"ws_clients":  s.hub.Count(),
	}
	if s.db != nil {
		dbCount, _ := s.db.Count()
		health["messages_in_db"] = dbCount
	}
	if s.idx != nil {
		indexCount, _ := s.idx.Count()
		health["messages_in_index"] = indexCount
	}

	writeJSON(w, http.StatusOK, health)
}

// statusFor maps an API failure to the status this server answers with
func statusFor(err error) int {
	kind, ok := api.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case api.KindUnauthorized:
		return http.StatusUnauthorized
	case api.KindRateLimited:
		return http.StatusTooManyRequests
	case api.KindValidation:
		return http.StatusUnprocessableEntity
	case api.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
