package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	stdsync "sync"

	"github.com/renderinc/sonymous/internal/api"
	"github.com/renderinc/sonymous/internal/compose"
	"github.com/renderinc/sonymous/internal/feed"
	"github.com/renderinc/sonymous/internal/like"
)

func (a *app) runBrowse(ctx context.Context, args []string) error {
	browseFlags := flag.NewFlagSet("browse", flag.ExitOnError)
	campusFlag := browseFlags.String("campus", "", "Campus to start on")
	_ = browseFlags.Parse(args)

	campus := *campusFlag
	if campus == "" {
		campus = a.cfg.Feed.Campus
	}

	likes := like.NewBoard(a.client, a.cfg.LikePolicy(), a.logger, nil)

	// background refreshes only announce new messages; the user decides when to redraw
	var (
		mu      stdsync.Mutex
		firstID int64
	)
	fs := feed.New(a.client, feed.Options{
		Interval: a.cfg.Feed.RefreshInterval,
		Refresh:  a.cfg.RefreshMode(),
		Logger:   a.logger,
		OnChange: func(snap feed.Snapshot) {
			likes.Observe(snap.Items)
			if len(snap.Items) == 0 {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if firstID != 0 && snap.Items[0].ID > firstID {
				fmt.Println("\n[new messages, type 'show' to see them]")
			}
			firstID = max(firstID, snap.Items[0].ID)
		},
	})
	defer fs.Close()

	go func() {
		if err := fs.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("feed_run_failed", slog.String("error", err.Error()))
		}
	}()

	filter := feed.Filter{Campus: campus}
	if campus != "" {
		if !api.IsCampus(campus) {
			return fmt.Errorf("unknown campus %q", campus)
		}
		a.setFilter(ctx, fs, likes, filter)
	} else {
		fmt.Println("Select a campus with 'campus <name>'. Campuses: " + strings.Join(api.Campuses, ", "))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := stdin.ReadString('\n')
			if line = strings.TrimSpace(line); line != "" {
				lines <- line
			}
			if err != nil {
				return
			}
		}
	}()

	fmt.Println("Type 'help' for commands.")
	for {
		fmt.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch cmd {
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			printBrowseHelp()
		case "show":
			printSnapshot(fs.Snapshot(), likes)
		case "campus":
			if !api.IsCampus(rest) {
				fmt.Println("Unknown campus. One of: " + strings.Join(api.Campuses, ", "))
				continue
			}
			filter.Campus = rest
			a.setFilter(ctx, fs, likes, filter)
		case "category":
			if rest == "all" {
				rest = ""
			}
			if rest != "" && !api.IsCategory(rest) {
				fmt.Println("Unknown category. One of: all, " + strings.Join(api.Categories, ", "))
				continue
			}
			filter.Category = rest
			a.setFilter(ctx, fs, likes, filter)
		case "more":
			switch err := fs.LoadMore(ctx); {
			case errors.Is(err, feed.ErrNoMorePages):
				fmt.Println("No more messages")
			case errors.Is(err, feed.ErrBusy), errors.Is(err, feed.ErrNotReady):
				fmt.Println("Still loading, try again")
			case err != nil:
				fmt.Println(api.UserMessage(err, api.Phrases{Fallback: "Failed to load messages."}))
			default:
				printSnapshot(fs.Snapshot(), likes)
			}
		case "refresh":
			if err := fs.Refresh(ctx); err != nil {
				fmt.Println(api.UserMessage(err, api.Phrases{Fallback: "Failed to load messages."}))
				continue
			}
			printSnapshot(fs.Snapshot(), likes)
		case "like":
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				fmt.Println("Usage: like <message-id>")
				continue
			}
			n, err := likes.Like(ctx, id)
			switch {
			case errors.Is(err, like.ErrAlreadyLiked):
				fmt.Println("Already liked")
			case errors.Is(err, like.ErrUnknownMessage):
				fmt.Println("That message is not on screen")
			case errors.Is(err, like.ErrInFlight):
				fmt.Println("Like in progress")
			case err != nil:
				fmt.Println(api.UserMessage(err, api.Phrases{Fallback: "Failed to like message."}))
			default:
				fmt.Printf("♥ %d\n", n)
			}
		case "post":
			created, err := compose.Submit(ctx, a.client, compose.Draft{Content: rest, Campus: filter.Campus})
			if err != nil {
				fmt.Println(compose.UserMessage(err))
				continue
			}
			fmt.Printf("Posted message #%d\n", created.ID)
			_ = fs.Refresh(ctx)
		case "ann", "announcements":
			if err := a.runAnnouncements(ctx); err != nil {
				fmt.Println(err)
			}
		default:
			fmt.Printf("Unknown command: %s\n", cmd)
		}
	}
}

// setFilter switches the feed and drops like state tied to the old list.
func (a *app) setFilter(ctx context.Context, fs *feed.Synchronizer, likes *like.Board, f feed.Filter) {
	likes.Reset()
	if err := fs.SetFilter(ctx, f); err != nil {
		fmt.Println(api.UserMessage(err, api.Phrases{Fallback: "Failed to load messages."}))
		return
	}
	snap := fs.Snapshot()
	a.mirror(snap.Items, f.Campus)
	printSnapshot(snap, likes)
}

func printBrowseHelp() {
	fmt.Println("Commands:")
	fmt.Println("  campus <name>       Switch campus")
	fmt.Println("  category <name|all> Filter by category")
	fmt.Println("  show                Redraw the feed")
	fmt.Println("  more                Load the next page")
	fmt.Println("  refresh             Fetch new messages now")
	fmt.Println("  like <id>           Like a message")
	fmt.Println("  post <text>         Post to the current campus")
	fmt.Println("  ann                 Show announcements")
	fmt.Println("  quit                Leave")
}
