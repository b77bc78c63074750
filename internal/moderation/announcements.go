package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/renderinc/sonymous/internal/api"
)

var ErrInvalidAnnouncement = errors.New("moderation: title and content are required")

// LoadAnnouncements refetches every announcement, inactive ones included.
func (c *Controller) LoadAnnouncements(ctx context.Context) error {
	if err := c.session.Require(ctx); err != nil {
		return err
	}

	list, err := c.api.AdminListAnnouncements(ctx)
	if err != nil {
		return c.fail("announcements_load_failed", err)
	}

	c.mu.Lock()
	c.announcements = list
	c.mu.Unlock()
	return nil
}

// CreateAnnouncement publishes a new announcement and refetches the list.
func (c *Controller) CreateAnnouncement(ctx context.Context, a api.NewAnnouncement) (*api.Announcement, error) {
	a.Title = strings.TrimSpace(a.Title)
	a.Content = strings.TrimSpace(a.Content)
	if a.Title == "" || a.Content == "" {
		return nil, ErrInvalidAnnouncement
	}
	if err := c.session.Require(ctx); err != nil {
		return nil, err
	}

	created, err := c.api.CreateAnnouncement(ctx, a)
	if err != nil {
		return nil, c.fail("announcement_create_failed", err)
	}
	c.logger.Info("announcement_created", slog.Int64("announcement_id", created.ID))

	if err := c.LoadAnnouncements(ctx); err != nil {
		return created, fmt.Errorf("refetch announcements: %w", err)
	}
	return created, nil
}

// SetAnnouncementActive toggles is_active through a partial update and
// refetches the list.
func (c *Controller) SetAnnouncementActive(ctx context.Context, id int64, active bool) error {
	if err := c.session.Require(ctx); err != nil {
		return err
	}

	if _, err := c.api.UpdateAnnouncement(ctx, id, api.AnnouncementPatch{IsActive: &active}); err != nil {
		return c.fail("announcement_update_failed", err)
	}
	c.logger.Info("announcement_updated", slog.Int64("announcement_id", id), slog.Bool("active", active))

	if err := c.LoadAnnouncements(ctx); err != nil {
		return fmt.Errorf("refetch announcements: %w", err)
	}
	return nil
}

// DeleteAnnouncement removes an announcement after confirmation and
// refetches the list.
func (c *Controller) DeleteAnnouncement(ctx context.Context, id int64, confirm Confirmer) error {
	if err := c.session.Require(ctx); err != nil {
		return err
	}

	ok, err := confirm.Confirm(ctx, "Delete this announcement?")
	if err != nil {
		return fmt.Errorf("confirm delete: %w", err)
	}
	if !ok {
		return ErrCanceled
	}

	if err := c.api.DeleteAnnouncement(ctx, id); err != nil {
		return c.fail("announcement_delete_failed", err)
	}
	c.logger.Info("announcement_deleted", slog.Int64("announcement_id", id))

	if err := c.LoadAnnouncements(ctx); err != nil {
		return fmt.Errorf("refetch announcements: %w", err)
	}
	return nil
}
