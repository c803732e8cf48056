package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldsync/api/internal/app"
	"fieldsync/api/internal/cache"
	"fieldsync/api/internal/config"
	"fieldsync/api/internal/erp"
	"fieldsync/api/internal/signer"
	"fieldsync/api/internal/store"
	syncer "fieldsync/api/internal/sync"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	sig := signer.New(cfg.ERPKey, cfg.ERPSecret)
	if err := sig.Check(); err != nil {
		log.Fatalf("erp credentials missing: %v", err)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	detailCache, err := cache.NewDetailCache(cfg.RedisURL, cfg.DetailCacheTTL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer detailCache.Close()

	client := erp.NewClient(cfg.ERPBaseURL, cfg.ERPScriptID, cfg.ERPDeployID, sig, cfg.ERPTimeout, cfg.ERPRetries)
	sets := syncer.NewManager(client, cfg.PageSize, cfg.MaxPages)
	audit := store.NewAuditStore(db)

	service := app.New(client, sets, detailCache, audit)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("FieldSync API listening on %s", cfg.Addr)
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
