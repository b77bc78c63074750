package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/renderinc/sonymous/internal/api"
	"github.com/renderinc/sonymous/internal/config"
	"github.com/renderinc/sonymous/internal/search"
	"github.com/renderinc/sonymous/internal/session"
	"github.com/renderinc/sonymous/internal/storage"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"

	dbFile    = "sonymous.db"
	indexFile = "messages.bleve"
)

func main() {
	// Parse global flags
	globalFlags := flag.NewFlagSet("global", flag.ExitOnError)
	configPath := globalFlags.String("config", "", "path to config file")
	dataDirFlag := globalFlags.String("data-dir", "", "Directory for database and index files")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Find where the command starts (skip global flags)
	commandIdx := 1
	for i := 1; i < len(os.Args); i++ {
		if !strings.HasPrefix(os.Args[i], "-") {
			commandIdx = i
			break
		}
	}
	if commandIdx > 1 {
		_ = globalFlags.Parse(os.Args[1:commandIdx])
	}

	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}

	logger := setupLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := os.Args[commandIdx]
	args := os.Args[commandIdx+1:]

	if err := run(ctx, cfg, logger, command, args); err != nil {
		if errors.Is(err, errUsage) {
			printUsage()
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, command string, args []string) error {
	switch command {
	case "serve", "browse", "feed", "post", "like", "announcements",
		"login", "logout", "whoami", "admin", "search", "sync", "reindex", "stats":
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		fmt.Printf("Unknown command: %s\n", command)
		return errUsage
	}

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch command {
	case "serve":
		return a.runServe(ctx, args)
	case "browse":
		return a.runBrowse(ctx, args)
	case "feed":
		return a.runFeed(ctx, args)
	case "post":
		return a.runPost(ctx, args)
	case "like":
		return a.runLike(ctx, args)
	case "announcements":
		return a.runAnnouncements(ctx)
	case "login":
		return a.runLogin(ctx, args)
	case "logout":
		return a.runLogout()
	case "whoami":
		return a.runWhoami()
	case "admin":
		return a.runAdmin(ctx, args)
	case "search":
		return a.runSearch(args)
	case "sync":
		return a.runSync(ctx, args)
	case "reindex":
		return a.runReindex()
	default:
		return a.runStats()
	}
}

func printUsage() {
	fmt.Println("SoNymous - anonymous campus message board")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sonymous [global-flags] <command> [flags]")
	fmt.Println()
	fmt.Println("Global Flags:")
	fmt.Println("  --config=<file>    Config file (default: $CONFIG_PATH or ./local.yaml)")
	fmt.Println("  --data-dir=<dir>   Directory for database and index files (default: ~/.sonymous)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve [flags]                 Start the web UI with live feed updates")
	fmt.Println("  browse [flags]                Interactive feed in the terminal")
	fmt.Println("  feed [flags]                  Print the feed for a campus")
	fmt.Println("  post [flags] <content>        Post an anonymous message")
	fmt.Println("  like <id>                     Like a message")
	fmt.Println("  announcements                 Show active announcements")
	fmt.Println("  login -email=<email>          Log in as a moderator")
	fmt.Println("  logout                        Forget the moderator session")
	fmt.Println("  whoami                        Show the logged-in moderator")
	fmt.Println("  admin <subcommand> [flags]    Moderation (messages, delete, announcements, announce,")
	fmt.Println("                                activate, deactivate, unannounce)")
	fmt.Println("  search [flags] <query>        Search mirrored messages")
	fmt.Println("  sync [flags]                  Archive a campus feed into the local mirror")
	fmt.Println("  reindex                       Rebuild the search index from the mirror")
	fmt.Println("  stats                         Show mirror statistics")
	fmt.Println()
	fmt.Println("Campuses: " + strings.Join(api.Campuses, ", "))
	fmt.Println("Categories: " + strings.Join(api.Categories, ", "))
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  sonymous feed -campus=Bulan")
	fmt.Println("  sonymous post -campus=Bulan -category=fun \"the library cat is back\"")
	fmt.Println("  sonymous search -campus=Bulan 'libr*'")
	fmt.Println("  sonymous admin messages -deleted=active")
	fmt.Println("  sonymous --data-dir=$HOME/.sonymous serve")
}

// setupLogger picks the handler for the environment. Logs go to stderr so
// command output on stdout stays clean.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return log
}

// app holds what every command needs: the local database, the restored
// moderator session and an API client that reads its token.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *storage.DB
	session *session.Store
	client  *api.Client
}

func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	dbPath, err := cfg.DataPath(dbFile)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := session.New(db, logger)
	if err := store.Restore(); err != nil {
		logger.Warn("session_restore_failed", slog.String("error", err.Error()))
	}

	client := api.NewClient(cfg.API.BaseURL,
		api.WithTokenSource(store),
		api.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		api.WithLogger(logger),
	)

	return &app{cfg: cfg, logger: logger, db: db, session: store, client: client}, nil
}

// openIndex opens the search index. Only one process may hold it.
func (a *app) openIndex() (*search.Index, error) {
	path, err := a.cfg.DataPath(indexFile)
	if err != nil {
		return nil, err
	}
	idx, err := search.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return idx, nil
}

// optionalIndex opens the index for commands that mirror as a side effect.
func (a *app) optionalIndex() *search.Index {
	idx, err := a.openIndex()
	if err != nil {
		a.logger.Warn("search_index_unavailable", slog.String("error", err.Error()))
		return nil
	}
	return idx
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("db_close_failed", slog.String("error", err.Error()))
	}
}

// campusFlag resolves -campus against the configured default.
func (a *app) campusFlag(v string) (string, error) {
	if v == "" {
		v = a.cfg.Feed.Campus
	}
	if v == "" {
		return "", fmt.Errorf("campus required: pass -campus or set FEED_CAMPUS")
	}
	if !api.IsCampus(v) {
		return "", fmt.Errorf("unknown campus %q (one of: %s)", v, strings.Join(api.Campuses, ", "))
	}
	return v, nil
}
