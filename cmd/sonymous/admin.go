package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/renderinc/sonymous/internal/api"
	"github.com/renderinc/sonymous/internal/moderation"
)

var stdin = bufio.NewReader(os.Stdin)

// readLine reads one trimmed line from stdin.
func readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// stdinConfirm asks on the terminal; anything but y/yes declines.
var stdinConfirm = moderation.ConfirmFunc(func(ctx context.Context, prompt string) (bool, error) {
	answer, err := readLine(prompt + " [y/N] ")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
})

func (a *app) runLogin(ctx context.Context, args []string) error {
	loginFlags := flag.NewFlagSet("login", flag.ExitOnError)
	email := loginFlags.String("email", "", "Moderator email")
	password := loginFlags.String("password", "", "Password (prompted when empty)")
	_ = loginFlags.Parse(args)

	var err error
	if *email == "" {
		if *email, err = readLine("Email: "); err != nil {
			return err
		}
	}
	if *password == "" {
		if *password, err = readLine("Password: "); err != nil {
			return err
		}
	}

	res, err := a.client.Login(ctx, strings.TrimSpace(*email), *password)
	if err != nil {
		a.logger.Debug("login_failed", slog.String("error", err.Error()))
		return errors.New(api.UserMessage(err, api.LoginPhrases))
	}
	if err := a.session.Login(res.Token, res.Admin); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	fmt.Printf("Logged in as %s <%s>\n", res.Admin.Name, res.Admin.Email)
	return nil
}

func (a *app) runLogout() error {
	if err := a.session.Logout(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	fmt.Println("Logged out")
	return nil
}

func (a *app) runWhoami() error {
	p := a.session.Profile()
	if p == nil {
		fmt.Println("Not logged in")
		return nil
	}
	fmt.Printf("%s <%s> (id %d)\n", p.Name, p.Email, p.ID)
	return nil
}

func (a *app) runAdmin(ctx context.Context, args []string) error {
	if len(args) < 1 {
		printAdminUsage()
		return errors.New("admin subcommand required")
	}

	ctl := moderation.New(a.client, a.session, a.logger)
	sub, rest := args[0], args[1:]

	var err error
	switch sub {
	case "messages":
		err = a.adminMessages(ctx, ctl, rest)
	case "delete":
		err = a.adminDelete(ctx, ctl, rest)
	case "announcements":
		err = a.adminAnnouncements(ctx, ctl)
	case "announce":
		err = a.adminAnnounce(ctx, ctl, rest)
	case "activate", "deactivate":
		err = a.adminSetActive(ctx, ctl, rest, sub == "activate")
	case "unannounce":
		err = a.adminUnannounce(ctx, ctl, rest)
	default:
		printAdminUsage()
		return fmt.Errorf("unknown admin subcommand: %s", sub)
	}
	return adminError(err)
}

func printAdminUsage() {
	fmt.Println("Usage: sonymous admin <subcommand> [flags]")
	fmt.Println()
	fmt.Println("  messages [-category=<c>] [-deleted=all|active|deleted] [-page=<n>]")
	fmt.Println("  delete [-yes] [-page=<n>] <message-id>")
	fmt.Println("  announcements")
	fmt.Println("  announce -title=<title> [-inactive] <content>")
	fmt.Println("  activate <announcement-id>")
	fmt.Println("  deactivate <announcement-id>")
	fmt.Println("  unannounce [-yes] <announcement-id>")
}

// adminError turns moderation failures into terminal text.
func adminError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, moderation.ErrCanceled):
		fmt.Println("Cancelled")
		return nil
	case errors.Is(err, moderation.ErrNotAuthenticated):
		return errors.New("not logged in: run 'sonymous login' first")
	case api.IsUnauthorized(err):
		return errors.New("session expired, please login again")
	case errors.Is(err, moderation.ErrInvalidAnnouncement),
		errors.Is(err, moderation.ErrAlreadyDeleted),
		errors.Is(err, moderation.ErrNoMorePages):
		return err
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return errors.New(api.UserMessage(err, api.Phrases{Fallback: "Request failed."}))
	}
	return err
}

func parseID(args []string, what string) (int64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%s id required", what)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q", what, args[0])
	}
	return id, nil
}

func (a *app) adminMessages(ctx context.Context, ctl *moderation.Controller, args []string) error {
	fs := flag.NewFlagSet("admin messages", flag.ExitOnError)
	category := fs.String("category", "", "Only one category")
	deleted := fs.String("deleted", "all", "all, active or deleted")
	page := fs.Int("page", 1, "Page to show")
	_ = fs.Parse(args)

	df, err := moderation.ParseDeletedFilter(*deleted)
	if err != nil {
		return err
	}
	if *category != "" && !api.IsCategory(*category) {
		return fmt.Errorf("unknown category %q", *category)
	}

	if err := ctl.SetFilter(ctx, moderation.Filter{Category: *category, Deleted: df}); err != nil {
		return err
	}
	if *page > 1 {
		if err := ctl.GoToPage(ctx, *page); err != nil {
			return err
		}
	}

	v := ctl.View()
	fmt.Printf("=== Messages: page %d of %d, %d total (%d active, %d deleted shown) ===\n\n",
		v.Meta.CurrentPage, v.Meta.LastPage, v.Meta.Total, v.Counts.Active, v.Counts.Deleted)
	if len(v.Messages) == 0 {
		fmt.Println("No messages")
		return nil
	}
	for _, m := range v.Messages {
		status := "active"
		if m.Deleted() {
			status = "DELETED"
		}
		campus := m.Campus
		if campus == "" {
			campus = "-"
		}
		fmt.Printf("#%d  %-7s  %s  ♥ %d\n", m.ID, status, campus, m.LikesCount)
		fmt.Printf("   %s\n\n", strings.ReplaceAll(m.Content, "\n", "\n   "))
	}
	return nil
}

func (a *app) adminDelete(ctx context.Context, ctl *moderation.Controller, args []string) error {
	fs := flag.NewFlagSet("admin delete", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	page := fs.Int("page", 1, "Page the message is listed on")
	_ = fs.Parse(args)

	id, err := parseID(fs.Args(), "message")
	if err != nil {
		return err
	}

	if err := ctl.GoToPage(ctx, *page); err != nil {
		return err
	}

	var confirm moderation.Confirmer = stdinConfirm
	if *yes {
		confirm = moderation.AlwaysConfirm
	}

	err = ctl.Delete(ctx, id, confirm)
	if errors.Is(err, moderation.ErrUnknownItem) {
		return fmt.Errorf("message #%d is not on page %d", id, *page)
	}
	if err != nil {
		if !errors.Is(err, moderation.ErrCanceled) && !api.IsUnauthorized(err) {
			var apiErr *api.Error
			if errors.As(err, &apiErr) {
				return errors.New(api.UserMessage(err, api.DeletePhrases))
			}
		}
		return err
	}
	fmt.Printf("Message #%d deleted\n", id)
	return nil
}

func (a *app) adminAnnouncements(ctx context.Context, ctl *moderation.Controller) error {
	if err := ctl.SetMode(ctx, moderation.ViewAnnouncements); err != nil {
		return err
	}
	printAnnouncements(ctl.View().Announcements)
	return nil
}

func printAnnouncements(list []api.Announcement) {
	if len(list) == 0 {
		fmt.Println("No announcements")
		return
	}
	for _, ann := range list {
		state := "inactive"
		if ann.IsActive {
			state = "active"
		}
		fmt.Printf("#%d  [%s]  %s\n   %s\n\n", ann.ID, state, ann.Title, strings.ReplaceAll(ann.Content, "\n", "\n   "))
	}
}

func (a *app) adminAnnounce(ctx context.Context, ctl *moderation.Controller, args []string) error {
	fs := flag.NewFlagSet("admin announce", flag.ExitOnError)
	title := fs.String("title", "", "Announcement title")
	inactive := fs.Bool("inactive", false, "Create without publishing")
	_ = fs.Parse(args)

	created, err := ctl.CreateAnnouncement(ctx, api.NewAnnouncement{
		Title:    *title,
		Content:  strings.Join(fs.Args(), " "),
		IsActive: !*inactive,
	})
	if err != nil {
		if created == nil {
			return saveError(err)
		}
		a.logger.Warn("announcement_refetch_failed", slog.String("error", err.Error()))
	}

	fmt.Printf("Announcement #%d created\n", created.ID)
	printAnnouncements(ctl.View().Announcements)
	return nil
}

func (a *app) adminSetActive(ctx context.Context, ctl *moderation.Controller, args []string, active bool) error {
	id, err := parseID(args, "announcement")
	if err != nil {
		return err
	}
	if err := ctl.SetAnnouncementActive(ctx, id, active); err != nil {
		return saveError(err)
	}
	printAnnouncements(ctl.View().Announcements)
	return nil
}

func (a *app) adminUnannounce(ctx context.Context, ctl *moderation.Controller, args []string) error {
	fs := flag.NewFlagSet("admin unannounce", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	_ = fs.Parse(args)

	id, err := parseID(fs.Args(), "announcement")
	if err != nil {
		return err
	}

	var confirm moderation.Confirmer = stdinConfirm
	if *yes {
		confirm = moderation.AlwaysConfirm
	}
	if err := ctl.DeleteAnnouncement(ctx, id, confirm); err != nil {
		return saveError(err)
	}
	fmt.Printf("Announcement #%d deleted\n", id)
	return nil
}

// saveError uses the announcement phrasing for server failures other than 401.
func saveError(err error) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && !api.IsUnauthorized(err) {
		return errors.New(api.UserMessage(err, api.AnnouncementPhrases))
	}
	return err
}
