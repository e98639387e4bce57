package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"taskhub/api/internal/activity"
	"taskhub/api/internal/app"
	"taskhub/api/internal/blob"
	"taskhub/api/internal/config"
	"taskhub/api/internal/effects"
	"taskhub/api/internal/email"
	"taskhub/api/internal/notify"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/views"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.MigrateUp(db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	dataStore := store.NewPostgresStore(db)

	var engine search.Engine
	if cfg.MeiliURL != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meili.Close()
		engine = meili
	}
	searchService := search.NewService(engine, search.NewPgFTS(db))

	blobs, err := openBlobStore(ctx, cfg.Blob)
	if err != nil {
		return err
	}

	registry := effects.NewRegistry()
	activity.Register(registry, dataStore)
	notify.Register(registry, dataStore)
	search.Register(registry, searchService)
	email.Register(registry, email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}))
	blob.Register(registry, blobs)

	opts := app.Options{
		Search:  searchService,
		Blobs:   blobs,
		BaseURL: cfg.AppBaseURL,
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = effects.Connect(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		queue := effects.NewRedisQueue(redisClient, registry, cfg.EffectRetries, time.Second)
		go func() {
			if err := queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("effects: worker stopped: %v", err)
			}
		}()
		opts.Dispatcher = queue
		opts.Views = views.NewRedisCache(redisClient, cfg.ViewTTL)
		log.Printf("Using Redis for side effects and view cache")
	} else {
		opts.Dispatcher = effects.NewInline(registry, cfg.EffectRetries)
		log.Printf("Running side effects inline")
	}

	service := app.New(dataStore, opts)

	gin.SetMode(gin.ReleaseMode)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, []byte(cfg.TokenSecret))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Taskhub API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

func openBlobStore(ctx context.Context, c config.BlobConfig) (blob.Store, error) {
	switch c.Driver {
	case "minio":
		s, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			Bucket:    c.Bucket,
			Region:    c.Region,
			UseSSL:    c.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("open minio store: %w", err)
		}
		return s, nil
	case "s3":
		s, err := blob.NewS3Store(ctx, blob.S3Config{
			Region:    c.Region,
			Bucket:    c.Bucket,
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 store: %w", err)
		}
		return s, nil
	case "", "memory":
		log.Printf("WARNING: attachments are kept in memory and lost on restart")
		return blob.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", c.Driver)
	}
}
