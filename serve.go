package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/davecheney/solo/activitypub"
	"github.com/davecheney/solo/admin"
	"github.com/davecheney/solo/internal/group"
	"github.com/davecheney/solo/internal/httpx"
	"github.com/davecheney/solo/internal/ldsig"
	"github.com/davecheney/solo/internal/metrics"
	"github.com/davecheney/solo/models"
	"github.com/davecheney/solo/wellknown"
	"github.com/davecheney/solo/workers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

type ServeCmd struct {
	Addr             string        `help:"address to listen" default:"127.0.0.1:9999"`
	IngestInterval   time.Duration `help:"interval between inbox processing passes" default:"2s"`
	DeliveryInterval time.Duration `help:"interval between delivery passes" default:"10s"`
	LogRoutes        bool          `help:"print the routes at startup"`
}

func (s *ServeCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	env, client, err := ctx.newEnv(db)
	if err != nil {
		return err
	}

	getEnv := func(r *http.Request) *activitypub.Env {
		return requestEnv(env, db.WithContext(r.Context()))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", httpx.HandlerFunc(getEnv, activitypub.ActorShow))
	r.Post("/inbox", httpx.HandlerFunc(getEnv, activitypub.Inbox))
	r.Get("/outbox", httpx.HandlerFunc(getEnv, activitypub.Outbox))
	r.Get("/followers", httpx.HandlerFunc(getEnv, activitypub.Followers))
	r.Get("/following", httpx.HandlerFunc(getEnv, activitypub.Following))
	r.Route("/o/{id}", func(r chi.Router) {
		r.Get("/", httpx.HandlerFunc(getEnv, activitypub.ObjectShow))
		r.Get("/activity", httpx.HandlerFunc(getEnv, activitypub.ObjectActivity))
	})

	r.Route("/.well-known", func(r chi.Router) {
		r.Get("/webfinger", httpx.HandlerFunc(getEnv, wellknown.Webfinger))
		r.Get("/host-meta", httpx.HandlerFunc(getEnv, wellknown.HostMeta))
		r.Get("/nodeinfo", httpx.HandlerFunc(getEnv, wellknown.NodeInfoIndex))
	})
	r.Get("/nodeinfo/{version}", httpx.HandlerFunc(getEnv, wellknown.NodeInfoShow))

	r.Route("/admin", func(r chi.Router) {
		r.Post("/notes", httpx.HandlerFunc(getEnv, admin.NoteCreate))
		r.Delete("/notes/{id}", httpx.HandlerFunc(getEnv, admin.NoteDestroy))
	})

	r.Handle("/metrics", metrics.Handler())
	r.Get("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "User-agent: *\nDisallow: /admin/\n")
	})

	if s.LogRoutes {
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			route = strings.Replace(route, "/*/", "/", -1)
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(r, walkFunc); err != nil {
			return err
		}
	}

	svr := &http.Server{
		Addr:         s.Addr,
		Handler:      r,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	sigctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer, _ := env.Verifier.(*ldsig.Verifier)
	deliverer := &workers.Deliverer{
		Env:         env,
		Poster:      client,
		HTTP:        client.HTTPClient(),
		Signer:      signer,
		MaxAttempts: ctx.Node.Delivery.MaxAttempts,
	}

	g := group.New(sigctx)
	g.Go(func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			svr.Shutdown(shutdown)
		}()
		env.Log().Info("http server listening", "addr", svr.Addr, "base_url", env.Local.BaseURL)
		if err := svr.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(workers.NewIncomingActivityProcessor(env, s.IngestInterval))
	g.Go(workers.NewDeliveryProcessor(deliverer, s.DeliveryInterval))
	if cron := ctx.Node.HousekeepingCron; cron != "" {
		g.Go(workers.NewHousekeeper(db, env.Log(), cron))
	}
	return g.Wait()
}

// requestEnv returns a copy of env bound to the request scoped db.
func requestEnv(env *activitypub.Env, db *gorm.DB) *activitypub.Env {
	e := *env
	e.Env = &models.Env{
		DB:     db,
		Logger: env.Logger,
	}
	return &e
}
