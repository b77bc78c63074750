package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	stdsync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/renderinc/sonymous/internal/feed"
	"github.com/renderinc/sonymous/internal/like"
	"github.com/renderinc/sonymous/internal/sync"
	"github.com/renderinc/sonymous/internal/web"
)

const shutdownTimeout = 10 * time.Second

func (a *app) runServe(ctx context.Context, args []string) error {
	serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
	host := serveFlags.String("host", a.cfg.HTTP.Host, "Host to bind to")
	port := serveFlags.String("port", a.cfg.HTTP.Port, "Port to listen on")
	_ = serveFlags.Parse(args)

	a.cfg.HTTP.Host, a.cfg.HTTP.Port = *host, *port
	log := a.logger.With(slog.String("component", "serve"))

	idx := a.optionalIndex()
	if idx != nil {
		defer idx.Close()
	}

	hub := web.NewHub(log)
	worker := sync.NewWorker(a.client, a.db, idx, a.cfg.Sync.Concurrency, log)

	var srv *web.Server
	likes := like.NewBoard(a.client, a.cfg.LikePolicy(), log, func(id int64, count int) {
		srv.PublishLike(id, count)
	})

	var (
		mu          stdsync.Mutex
		lastVersion uint64
	)
	onChange := func(snap feed.Snapshot) {
		mu.Lock()
		if snap.Version <= lastVersion {
			mu.Unlock()
			return
		}
		lastVersion = snap.Version
		mu.Unlock()

		likes.Observe(snap.Items)
		if snap.Status == feed.StatusReady {
			if _, err := worker.Mirror(snap.Items, snap.Filter.Campus); err != nil {
				log.Warn("feed_mirror_failed", slog.String("error", err.Error()))
			}
		}
		srv.PublishFeed(snap)
	}

	fs := feed.New(a.client, feed.Options{
		Interval: a.cfg.Feed.RefreshInterval,
		Refresh:  a.cfg.RefreshMode(),
		Logger:   log,
		OnChange: onChange,
	})
	defer fs.Close()

	var err error
	srv, err = web.NewServer(web.Deps{
		Feed:           fs,
		Likes:          likes,
		API:            a.client,
		DB:             a.db,
		Index:          idx,
		Hub:            hub,
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	if a.cfg.Feed.Campus != "" {
		if err := fs.SetFilter(ctx, feed.Filter{Campus: a.cfg.Feed.Campus}); err != nil {
			log.Warn("initial_feed_failed", slog.String("error", err.Error()))
		}
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr())
	if err != nil {
		log.Error("http_listen_failed", slog.String("addr", a.cfg.HTTP.Addr()), slog.String("error", err.Error()))
		return err
	}
	log.Info("http_listen", slog.String("addr", "http://"+ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_serve_failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	g.Go(func() error { return hub.Run(gctx) })

	g.Go(func() error {
		if err := fs.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown_signal_received")
		fs.Close()
		likes.Reset()

		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shCtx); err != nil {
			log.Error("http_shutdown_failed", slog.String("error", err.Error()))
			return err
		}
		log.Info("http_shutdown_complete")
		return nil
	})

	return g.Wait()
}
