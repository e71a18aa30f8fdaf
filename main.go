package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tetatet/internal/auth"
	"tetatet/internal/commands"
	"tetatet/internal/config"
	"tetatet/internal/http"
	"tetatet/internal/hub"
	"tetatet/internal/metrics"
	"tetatet/internal/push"
	"tetatet/internal/storage"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	addUser := flag.String("add-user", "", "Username to create (creates user with random password and prints details)")
	flag.Parse()

	cfg, err := config.Load(*addUser != "")
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, cfg)
	}

	metrics.Register()

	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}
	authService, err := auth.NewAuthService(ctx, authConfig, store)
	if err != nil {
		return err
	}

	hubConfig := hub.Config{
		Store:         store,
		MaxContentLen: cfg.MaxContentLen,
	}
	if cfg.VAPIDPublic != "" && cfg.VAPIDPrivate != "" {
		pushService, err := push.New(push.Config{
			VAPIDPublic:  cfg.VAPIDPublic,
			VAPIDPrivate: cfg.VAPIDPrivate,
			Subject:      cfg.VAPIDSubject,
		}, store)
		if err != nil {
			return err
		}
		hubConfig.Push = pushService
	} else {
		log.Println("VAPID keys not configured, web push disabled")
	}

	h := hub.New(ctx, hubConfig)

	apiServer := http.NewAPIServer(authService, h, store, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Evict registry entries for connections that died without notice.
	g.Go(func() error {
		h.RunReaper(gCtx, cfg.ReaperInterval)
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		h.Wait()
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
