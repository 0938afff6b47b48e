package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"mangasync/internal/api"
	"mangasync/internal/config"
	"mangasync/internal/events"
	"mangasync/internal/session"
	"mangasync/internal/source"
	"mangasync/internal/store"
	syncengine "mangasync/internal/sync"
	"mangasync/internal/transport"
	"mangasync/internal/update"
	"mangasync/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if cfg.Daemon.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Daemon.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	db := database.MustOpen(database.Config{Path: cfg.Database.Path})
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	st := store.New(db)
	ctx := context.Background()

	clientID, err := st.Settings.Get(ctx, store.KeyClientID)
	if err != nil {
		log.Fatalf("read client id: %v", err)
	}
	if clientID == "" {
		clientID = uuid.NewString()
		if err := st.Settings.Set(ctx, store.KeyClientID, clientID); err != nil {
			log.Fatalf("store client id: %v", err)
		}
	}

	client := transport.New(cfg.Server.BaseURL, clientID)
	reg := source.NewRegistry(client, st)
	client.SetDriverHook(reg.Discover)

	hub := events.NewHub()
	client.SetErrorHook(func(e *transport.APIError) {
		log.Printf("[transport] %v", e)
		hub.Publish(events.Event{Type: events.TypeError, Message: e.Error(), At: time.Now().UTC()})
	})

	sess := session.New(client, st)
	client.SetTokenProvider(sess.Token)
	if err := sess.Load(ctx); err != nil {
		log.Fatalf("restore session: %v", err)
	}

	syncEng := syncengine.NewEngine(st, client, reg, hub, sess.Token)
	sess.SetSyncer(syncEng)
	updEng := update.NewEngine(st, reg, hub)

	router := gin.Default()
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": cfg.Database.Path})
	})

	router.GET("/ready", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "db_error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "db": "ok", "observers": hub.Count()})
	})

	handler := &api.Handler{
		Store:    st,
		Registry: reg,
		Session:  sess,
		Sync:     syncEng,
		Update:   updEng,
		Hub:      hub,
		API:      client,
	}
	handler.RegisterRoutes(router)

	sched := cron.New()
	if cfg.Daemon.UpdateSchedule != "" {
		if _, err := sched.AddFunc(cfg.Daemon.UpdateSchedule, func() {
			if err := updEng.Run(context.Background()); err != nil {
				log.Printf("[update] scheduled run failed: %v", err)
			}
		}); err != nil {
			log.Fatalf("bad update schedule %q: %v", cfg.Daemon.UpdateSchedule, err)
		}
	}
	if cfg.Daemon.SyncSchedule != "" {
		if _, err := sched.AddFunc(cfg.Daemon.SyncSchedule, func() {
			if err := syncEng.Run(context.Background()); err != nil {
				log.Printf("[sync] scheduled run failed: %v", err)
			}
		}); err != nil {
			log.Fatalf("bad sync schedule %q: %v", cfg.Daemon.SyncSchedule, err)
		}
	}
	sched.Start()

	httpSrv := &http.Server{
		Addr:    cfg.Daemon.Listen,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("daemon listening on %s", cfg.Daemon.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("shutdown signal received: %s", sig)
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	log.Println("shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	log.Println("daemon stopped")
}
