package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/renderinc/sonymous/internal/api"
	"github.com/renderinc/sonymous/internal/compose"
	"github.com/renderinc/sonymous/internal/feed"
	"github.com/renderinc/sonymous/internal/like"
	"github.com/renderinc/sonymous/internal/sync"
)

func (a *app) runFeed(ctx context.Context, args []string) error {
	feedFlags := flag.NewFlagSet("feed", flag.ExitOnError)
	campusFlag := feedFlags.String("campus", "", "Campus to show")
	category := feedFlags.String("category", "", "Only show one category (advice, confession, fun)")
	pages := feedFlags.Int("pages", 1, "Number of pages to load")
	_ = feedFlags.Parse(args)

	campus, err := a.campusFlag(*campusFlag)
	if err != nil {
		return err
	}
	if *category != "" && !api.IsCategory(*category) {
		return fmt.Errorf("unknown category %q", *category)
	}

	fs := feed.New(a.client, feed.Options{Logger: a.logger, Refresh: a.cfg.RefreshMode()})
	defer fs.Close()

	if err := fs.SetFilter(ctx, feed.Filter{Campus: campus, Category: *category}); err != nil {
		return errors.New(api.UserMessage(err, api.Phrases{Fallback: "Failed to load messages."}))
	}
	for i := 1; i < *pages; i++ {
		err := fs.LoadMore(ctx)
		if errors.Is(err, feed.ErrNoMorePages) {
			break
		}
		if err != nil {
			return err
		}
	}

	snap := fs.Snapshot()
	a.mirror(snap.Items, campus)
	printSnapshot(snap, nil)
	return nil
}

// mirror stores displayed messages so search and stats see them.
func (a *app) mirror(msgs []api.Message, campus string) {
	idx := a.optionalIndex()
	if idx != nil {
		defer idx.Close()
	}
	worker := sync.NewWorker(a.client, a.db, idx, a.cfg.Sync.Concurrency, a.logger)
	if _, err := worker.Mirror(msgs, campus); err != nil {
		a.logger.Warn("feed_mirror_failed", slog.String("error", err.Error()))
	}
}

func printSnapshot(snap feed.Snapshot, likes *like.Board) {
	items := snap.Items
	if likes != nil {
		items = likes.Overlay(items)
	}

	switch snap.Status {
	case feed.StatusEmpty:
		fmt.Println("No messages yet. Be the first to share!")
		return
	case feed.StatusIdle:
		fmt.Println("Select a campus to see messages.")
		return
	}

	title := snap.Filter.Campus
	if snap.Filter.Category != "" {
		title += " / " + snap.Filter.Category
	}
	fmt.Printf("=== %s (%d of %d) ===\n\n", title, len(items), snap.Total)

	for _, m := range items {
		liked := false
		if likes != nil {
			if c, ok := likes.Get(m.ID); ok {
				liked = c.Liked()
			}
		}
		printMessage(m, liked)
	}

	if snap.HasMore {
		fmt.Printf("Page %d of %d, more available\n", snap.Page, snap.LastPage)
	}
}

func printMessage(m api.Message, liked bool) {
	heart := "♡"
	if liked {
		heart = "♥"
	}
	category := m.CategoryName()
	if category == "" {
		category = "general"
	}
	fmt.Printf("#%d  [%s]  %s %d  %s\n", m.ID, category, heart, m.LikesCount, timeAgo(m.CreatedAt))
	fmt.Printf("   %s\n\n", strings.ReplaceAll(m.Content, "\n", "\n   "))
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2, 2006")
	}
}

func (a *app) runPost(ctx context.Context, args []string) error {
	postFlags := flag.NewFlagSet("post", flag.ExitOnError)
	campusFlag := postFlags.String("campus", "", "Campus to post to")
	category := postFlags.String("category", "", "Optional category (advice, confession, fun)")
	_ = postFlags.Parse(args)

	if postFlags.NArg() < 1 {
		fmt.Println("Usage: sonymous post [-campus=<campus>] [-category=<category>] <content>")
		return errors.New("message content required")
	}

	campus := *campusFlag
	if campus == "" {
		campus = a.cfg.Feed.Campus
	}

	draft := compose.Draft{
		Content:  strings.Join(postFlags.Args(), " "),
		Category: *category,
		Campus:   campus,
	}
	created, err := compose.Submit(ctx, a.client, draft)
	if err != nil {
		a.logger.Debug("post_failed", slog.String("error", err.Error()))
		return errors.New(compose.UserMessage(err))
	}

	a.mirror([]api.Message{*created}, created.Campus)
	fmt.Printf("Posted message #%d to %s\n", created.ID, created.Campus)
	return nil
}

func (a *app) runLike(ctx context.Context, args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: sonymous like <message-id>")
		return errors.New("message id required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q", args[0])
	}

	count := 0
	rec, err := a.db.Get(id)
	if err != nil {
		return err
	}
	if rec != nil {
		count = rec.LikesCount
	}

	c := like.NewController(id, count, a.client, a.cfg.LikePolicy(), a.logger)
	n, err := c.Trigger(ctx)
	if err != nil {
		return errors.New(api.UserMessage(err, api.Phrases{Fallback: "Failed to like message."}))
	}

	if rec != nil {
		rec.LikesCount = n
		if err := a.db.Upsert(rec); err != nil {
			a.logger.Warn("mirror_update_failed", slog.Int64("message_id", id), slog.String("error", err.Error()))
		}
	}
	fmt.Printf("♥ %d\n", n)
	return nil
}

func (a *app) runAnnouncements(ctx context.Context) error {
	list, err := a.client.ListAnnouncements(ctx)
	if err != nil {
		return errors.New(api.UserMessage(err, api.Phrases{Fallback: "Failed to load announcements."}))
	}

	shown := 0
	for _, ann := range list {
		if !ann.IsActive {
			continue
		}
		shown++
		fmt.Printf("📢 %s\n   %s\n\n", ann.Title, strings.ReplaceAll(ann.Content, "\n", "\n   "))
	}
	if shown == 0 {
		fmt.Println("No announcements")
	}
	return nil
}

func (a *app) runSearch(args []string) error {
	searchFlags := flag.NewFlagSet("search", flag.ExitOnError)
	campus := searchFlags.String("campus", "", "Restrict to one campus")
	limit := searchFlags.Int("limit", 10, "Maximum number of results")
	_ = searchFlags.Parse(args)

	if searchFlags.NArg() < 1 {
		fmt.Println("Usage: sonymous search [-campus=<campus>] [-limit=<n>] <query>")
		return errors.New("search query required")
	}
	if *campus != "" && !api.IsCampus(*campus) {
		return fmt.Errorf("unknown campus %q", *campus)
	}

	idx, err := a.openIndex()
	if err != nil {
		return err
	}
	defer idx.Close()
	idx.SetHighlightStyle("ansi")

	query := strings.Join(searchFlags.Args(), " ")
	results, err := idx.Search(query, *campus, *limit)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return nil
	}

	fmt.Printf("\nFound %d results:\n\n", len(results))
	for i, result := range results {
		category := result.Category
		if category == "" {
			category = "general"
		}
		fmt.Printf("%d. #%d [%s] %s\n", i+1, result.ID, category, result.Campus)
		fmt.Printf("   Likes: %d  Score: %.3f\n", result.LikesCount, result.Score)
		if snippets, ok := result.Fragments["Content"]; ok && len(snippets) > 0 {
			fmt.Printf("   Preview: %s\n", snippets[0])
		} else {
			fmt.Printf("   %s\n", result.Content)
		}
		fmt.Println()
	}
	return nil
}

func (a *app) runSync(ctx context.Context, args []string) error {
	syncFlags := flag.NewFlagSet("sync", flag.ExitOnError)
	campusFlag := syncFlags.String("campus", "", "Campus to archive")
	category := syncFlags.String("category", "", "Only archive one category")
	prune := syncFlags.Bool("prune", false, "Mark mirrored messages missing from the feed as deleted")
	maxPages := syncFlags.Int("max-pages", 0, "Stop after this many pages (0 = all)")
	_ = syncFlags.Parse(args)

	campus, err := a.campusFlag(*campusFlag)
	if err != nil {
		return err
	}

	idx, err := a.openIndex()
	if err != nil {
		return err
	}
	defer idx.Close()

	worker := sync.NewWorker(a.client, a.db, idx, a.cfg.Sync.Concurrency, a.logger)
	worker.SetMaxPages(*maxPages)

	stats, err := worker.Archive(ctx, sync.Options{Campus: campus, Category: *category, Prune: *prune})
	if err != nil {
		return fmt.Errorf("syncing: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Sync Complete ===")
	fmt.Printf("Pages:         %d\n", stats.Pages)
	fmt.Printf("Messages:      %d\n", stats.Messages)
	fmt.Printf("New:           %d\n", stats.NewMessages)
	fmt.Printf("Updated:       %d\n", stats.Updated)
	if *prune {
		if stats.PruneSkipped {
			fmt.Println("Pruned:        skipped (feed changed during sync, run again)")
		} else {
			fmt.Printf("Pruned:        %d\n", stats.Pruned)
		}
	}
	fmt.Printf("Errors:        %d\n", stats.Errors)
	fmt.Printf("Duration:      %v\n", stats.Duration)
	return nil
}

func (a *app) runReindex() error {
	idx, err := a.openIndex()
	if err != nil {
		return err
	}
	defer idx.Close()

	start := time.Now()
	err = idx.Rebuild(a.db, func(done, total int) {
		fmt.Printf("\rIndexed %d/%d messages", done, total)
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	fmt.Printf("Reindex complete in %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func (a *app) runStats() error {
	idx, err := a.openIndex()
	if err != nil {
		return err
	}
	defer idx.Close()

	dbCount, err := a.db.Count()
	if err != nil {
		return fmt.Errorf("database count: %w", err)
	}
	indexCount, err := idx.Count()
	if err != nil {
		return fmt.Errorf("index count: %w", err)
	}

	fmt.Println("=== Mirror Statistics ===")
	fmt.Printf("Messages in database: %d\n", dbCount)
	fmt.Printf("Messages in index:    %d\n", indexCount)
	if p := a.session.Profile(); p != nil {
		fmt.Printf("Moderator:            %s <%s>\n", p.Name, p.Email)
	}
	return nil
}
