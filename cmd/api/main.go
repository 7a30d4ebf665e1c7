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

	"cirrusdocs/api/internal/app"
	"cirrusdocs/api/internal/authpw"
	"cirrusdocs/api/internal/config"
	"cirrusdocs/api/internal/email"
	"cirrusdocs/api/internal/export"
	"cirrusdocs/api/internal/graph"
	"cirrusdocs/api/internal/realtime"
	"cirrusdocs/api/internal/search"
	"cirrusdocs/api/internal/session"
	"cirrusdocs/api/internal/store"
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
	creds := authpw.NewService(dataStore)

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mail.IsConfigured() {
		log.Printf("SMTP not configured, invitations will report inviteSent:false")
	}

	var archiver export.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioArchiver, err := export.NewMinioArchiver(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
		archiver = minioArchiver
	}
	exporter := export.NewService(archiver)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	reindex(ctx, dataStore, searchService)

	hub := realtime.NewHub()

	var sessions interface {
		SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	} = dataStore
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

	service := app.New(cfg, dataStore, sessions, creds, mail, exporter, searchService, hub)

	graphService, err := graph.NewService(dataStore)
	if err != nil {
		log.Fatalf("graphql schema failed: %v", err)
	}

	httpServer := app.NewHTTPServer(service, graphService, hub, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("CirrusDocs API listening on %s", cfg.Addr)
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

// reindex pushes the current documents into Meilisearch so a fresh search
// instance catches up with the database.
func reindex(ctx context.Context, dataStore *store.PostgresStore, searchService *search.Service) {
	documents, err := dataStore.ListAllDocuments(ctx)
	if err != nil {
		log.Printf("WARNING: search reindex skipped: %v", err)
		return
	}
	records := make([]search.DocumentRecord, 0, len(documents))
	for _, doc := range documents {
		records = append(records, search.DocumentRecord{
			ID:           doc.ID,
			Filename:     doc.Filename,
			Title:        doc.Title,
			Content:      doc.Content,
			Code:         doc.Code,
			AllowedUsers: doc.AllowedUsers,
		})
	}
	searchService.ReindexAll(records)
}
