package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"stordesk.io/internal/access"
	"stordesk.io/internal/audit"
	"stordesk.io/internal/httpapi"
	"stordesk.io/internal/obs"
	"stordesk.io/internal/session"
	pgstore "stordesk.io/internal/store/pg"
)

// Overridden at build time via -ldflags.
var (
	version = "0.3.0"
	commit  = "unknown"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("STORDESK_PG_DSN")
	if dsn == "" {
		log.Fatal("STORDESK_PG_DSN is required")
	}
	secret := os.Getenv("STORDESK_SESSION_SECRET")
	if secret == "" {
		log.Fatal("STORDESK_SESSION_SECRET is required")
	}

	store, err := pgstore.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	admin, err := access.NewService(store)
	if err != nil {
		log.Fatalf("access service: %v", err)
	}

	sessionOpts := []session.Option{}
	if ttl := envDuration("STORDESK_SESSION_TTL"); ttl > 0 {
		sessionOpts = append(sessionOpts, session.WithAccessTTL(ttl))
	}
	if ttl := envDuration("STORDESK_REFRESH_TTL"); ttl > 0 {
		sessionOpts = append(sessionOpts, session.WithRefreshTTL(ttl))
	}
	sessions, err := session.NewService(secret, store.RefreshTokens(), sessionOpts...)
	if err != nil {
		log.Fatalf("session service: %v", err)
	}

	loginWindow := envDuration("STORDESK_LOGIN_WINDOW")
	if loginWindow <= 0 {
		loginWindow = 15 * time.Minute
	}

	api := httpapi.New(
		admin,
		sessions,
		audit.NewEmitter(store.AuditTrail()),
		store.LoginAttempts(loginWindow),
		httpapi.ReadyProbe{DB: store.DB()},
		httpapi.Config{
			Version:       version,
			SecureCookies: envBool("STORDESK_SECURE_COOKIES", true),
			LoginLimit:    envInt("STORDESK_LOGIN_LIMIT", 5),
			LoginWindow:   loginWindow,
		},
	)

	addr := os.Getenv("STORDESK_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting stordesk-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func envDuration(name string) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return d
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return n
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return b
}
