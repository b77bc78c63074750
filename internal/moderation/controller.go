// Package moderation is the authenticated admin workflow: list messages with
// a deleted filter, soft-delete them, and manage announcements.
//
// Every operation first passes the session gate. An unauthorized response
// logs the session out and is returned unchanged; navigating to the login
// view is up to the caller.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/renderinc/sonymous/internal/api"
	"github.com/renderinc/sonymous/internal/session"
)

var (
	ErrNotAuthenticated = session.ErrNotAuthenticated
	ErrAlreadyDeleted   = errors.New("moderation: message already deleted")
	ErrUnknownItem      = errors.New("moderation: item not in the current list")
	ErrBusy             = errors.New("moderation: delete already in progress")
	ErrCanceled         = errors.New("moderation: not confirmed")
	ErrNoMorePages      = errors.New("moderation: no more pages")
)

// AdminAPI is the part of the API client moderation uses.
type AdminAPI interface {
	AdminListMessages(ctx context.Context, q api.AdminMessageQuery) (*api.MessagePage, error)
	AdminDeleteMessage(ctx context.Context, id int64) error
	AdminListAnnouncements(ctx context.Context) ([]api.Announcement, error)
	CreateAnnouncement(ctx context.Context, a api.NewAnnouncement) (*api.Announcement, error)
	UpdateAnnouncement(ctx context.Context, id int64, patch api.AnnouncementPatch) (*api.Announcement, error)
	DeleteAnnouncement(ctx context.Context, id int64) error
}

// Session is the gate moderation sits behind. *session.Store satisfies it.
type Session interface {
	Require(ctx context.Context) error
	Logout() error
}

// Confirmer asks the user to confirm a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) { return f(ctx, prompt) }

// AlwaysConfirm approves every prompt, for non-interactive use.
var AlwaysConfirm = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

// ViewMode switches the resource shown.
type ViewMode int

const (
	ViewMessages ViewMode = iota
	ViewAnnouncements
)

func (v ViewMode) String() string {
	if v == ViewAnnouncements {
		return "announcements"
	}
	return "messages"
}

// DeletedFilter is the tri-state is_deleted filter.
type DeletedFilter int

const (
	ShowAll DeletedFilter = iota
	ShowActive
	ShowDeleted
)

// ParseDeletedFilter accepts "all", "active" and "deleted".
func ParseDeletedFilter(s string) (DeletedFilter, error) {
	switch s {
	case "", "all":
		return ShowAll, nil
	case "active":
		return ShowActive, nil
	case "deleted":
		return ShowDeleted, nil
	default:
		return ShowAll, fmt.Errorf("unknown deleted filter %q", s)
	}
}

func (f DeletedFilter) String() string {
	switch f {
	case ShowActive:
		return "active"
	case ShowDeleted:
		return "deleted"
	default:
		return "all"
	}
}

// queryValue is the is_deleted parameter sent to the API.
func (f DeletedFilter) queryValue() string {
	switch f {
	case ShowActive:
		return "false"
	case ShowDeleted:
		return "true"
	default:
		return ""
	}
}

// Filter selects the moderation listing.
type Filter struct {
	Category string
	Deleted  DeletedFilter
}

// Counts summarises the displayed list.
type Counts struct {
	Active  int
	Deleted int
}

// View is a copy of the controller state.
type View struct {
	Mode          ViewMode
	Filter        Filter
	Messages      []api.Message
	Meta          api.PageMeta
	Announcements []api.Announcement
	Counts        Counts
}

// Controller holds the moderation state for one admin view.
type Controller struct {
	api     AdminAPI
	session Session
	logger  *slog.Logger

	mu            sync.Mutex
	mode          ViewMode
	filter        Filter
	page          int
	messages      []api.Message
	meta          api.PageMeta
	announcements []api.Announcement
	deleting      map[int64]bool
	gen           uint64
}

// New creates a controller on page 1 of all messages.
func New(client AdminAPI, sess Session, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		api:      client,
		session:  sess,
		logger:   logger,
		page:     1,
		deleting: make(map[int64]bool),
	}
}

// SetMode switches between messages and announcements and loads the view.
func (c *Controller) SetMode(ctx context.Context, mode ViewMode) error {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()

	if mode == ViewAnnouncements {
		return c.LoadAnnouncements(ctx)
	}
	return c.Load(ctx)
}

// SetFilter changes the filter and reloads page 1.
func (c *Controller) SetFilter(ctx context.Context, f Filter) error {
	c.mu.Lock()
	c.filter = f
	c.page = 1
	c.mu.Unlock()
	return c.Load(ctx)
}

// Load fetches the current page, replacing the displayed messages.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	q := api.AdminMessageQuery{
		Category:  c.filter.Category,
		IsDeleted: c.filter.Deleted.queryValue(),
		Page:      c.page,
	}
	c.mu.Unlock()

	if err := c.session.Require(ctx); err != nil {
		return err
	}

	page, err := c.api.AdminListMessages(ctx, q)
	if err != nil {
		return c.fail("moderation_load_failed", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	c.messages = page.Data
	c.meta = page.Meta
	c.page = max(page.Meta.CurrentPage, 1)
	return nil
}

// NextPage replaces the list with the next page.
func (c *Controller) NextPage(ctx context.Context) error {
	c.mu.Lock()
	if c.page >= c.meta.LastPage {
		c.mu.Unlock()
		return ErrNoMorePages
	}
	c.page++
	c.mu.Unlock()
	return c.Load(ctx)
}

// PrevPage replaces the list with the previous page.
func (c *Controller) PrevPage(ctx context.Context) error {
	c.mu.Lock()
	if c.page <= 1 {
		c.mu.Unlock()
		return ErrNoMorePages
	}
	c.page--
	c.mu.Unlock()
	return c.Load(ctx)
}

// GoToPage loads an explicit page.
func (c *Controller) GoToPage(ctx context.Context, page int) error {
	c.mu.Lock()
	c.page = max(page, 1)
	c.mu.Unlock()
	return c.Load(ctx)
}

// Delete soft-deletes a displayed message after confirmation. The message
// stays in the list with its deleted flag set.
func (c *Controller) Delete(ctx context.Context, id int64, confirm Confirmer) error {
	if err := c.session.Require(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	idx := c.indexLocked(id)
	switch {
	case idx < 0:
		c.mu.Unlock()
		return ErrUnknownItem
	case c.messages[idx].Deleted():
		c.mu.Unlock()
		return ErrAlreadyDeleted
	case c.deleting[id]:
		c.mu.Unlock()
		return ErrBusy
	}
	c.deleting[id] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.deleting, id)
		c.mu.Unlock()
	}()

	ok, err := confirm.Confirm(ctx, "Are you sure you want to delete this message?")
	if err != nil {
		return fmt.Errorf("confirm delete: %w", err)
	}
	if !ok {
		return ErrCanceled
	}

	if err := c.api.AdminDeleteMessage(ctx, id); err != nil {
		return c.fail("moderation_delete_failed", err)
	}

	c.mu.Lock()
	if idx := c.indexLocked(id); idx >= 0 {
		deleted := true
		c.messages[idx].IsDeleted = &deleted
	}
	c.mu.Unlock()

	c.logger.Info("message_deleted", slog.Int64("message_id", id))
	return nil
}

// CanDelete reports whether a delete action should be offered for id.
func (c *Controller) CanDelete(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexLocked(id)
	return idx >= 0 && !c.messages[idx].Deleted() && !c.deleting[id]
}

// View returns a copy of the state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Mode:          c.mode,
		Filter:        c.filter,
		Messages:      make([]api.Message, len(c.messages)),
		Meta:          c.meta,
		Announcements: append([]api.Announcement(nil), c.announcements...),
	}
	for i, m := range c.messages {
		if m.IsDeleted != nil {
			deleted := *m.IsDeleted
			m.IsDeleted = &deleted
		}
		v.Messages[i] = m
		if m.Deleted() {
			v.Counts.Deleted++
		} else {
			v.Counts.Active++
		}
	}
	return v
}

func (c *Controller) indexLocked(id int64) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// fail logs the session out on 401 and returns err unchanged.
func (c *Controller) fail(event string, err error) error {
	if api.IsUnauthorized(err) {
		c.logger.Warn("moderation_unauthorized", slog.String("error", err.Error()))
		if lerr := c.session.Logout(); lerr != nil {
			c.logger.Error("session_logout_failed", slog.String("error", lerr.Error()))
		}
		return err
	}
	c.logger.Warn(event, slog.String("error", err.Error()))
	return err
}
