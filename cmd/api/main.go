package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"medkey/api/internal/app"
	"medkey/api/internal/authpw"
	"medkey/api/internal/config"
	"medkey/api/internal/email"
	"medkey/api/internal/enhance"
	"medkey/api/internal/identity"
	"medkey/api/internal/photos"
	"medkey/api/internal/session"
	"medkey/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var sessions app.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Printf("SMTP not configured, confirmation and reset tokens returned in responses")
	}

	photoStore, err := photos.New(ctx, photos.Config{
		Endpoint:  cfg.PhotoEndpoint,
		AccessKey: cfg.PhotoAccessKey,
		SecretKey: cfg.PhotoSecretKey,
		Bucket:    cfg.PhotoBucket,
		UseSSL:    cfg.PhotoUseSSL,
	})
	if err != nil {
		log.Fatalf("photo storage failed: %v", err)
	}

	enhancer := enhance.New(cfg.EnhanceAPIKey, cfg.EnhanceModel, cfg.EnhanceURL)
	if !enhancer.Enabled() {
		log.Printf("Notes enhancement disabled, no API key configured")
	}

	authService := authpw.NewService(dataStore, cfg.AutoConfirm)
	service := app.New(cfg, dataStore, sessions, authService, enhancer, photoStore, mailer)

	service.Identity().Subscribe(func(c identity.Change) {
		if c.Present {
			log.Printf("session: principal %s signed in", c.Principal.ID)
			return
		}
		log.Printf("session: principal signed out")
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("MedKey API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
