package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assetforge/internal/config"
	"assetforge/internal/genclient"
	"assetforge/internal/persist"
	"assetforge/internal/prompt"
	"assetforge/internal/queue"
	"assetforge/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := buildClient(ctx, cfg)
	if err != nil {
		log.Fatalf("init generation client: %v", err)
	}
	defer client.Close()

	persister, err := buildPersister(cfg)
	if err != nil {
		log.Fatalf("init persister: %v", err)
	}

	archive := persist.NewArchiveFromEnv(cfg.ArchivePath)
	defer archive.Close()

	app := server.NewApp(ctx, server.AppConfig{
		Client:      client,
		Builder:     prompt.NewTemplateBuilder(),
		Persister:   persister,
		Archive:     archive,
		MaxParallel: cfg.Generation.MaxConcurrent,
		CallTimeout: cfg.Generation.CallTimeout,
	})

	srv := server.New(cfg.Port, server.BuildMux(app))
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("generation client: %s, max %d in flight", client.Name(), cfg.Generation.MaxConcurrent)
	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
}

func buildClient(ctx context.Context, cfg *config.Config) (genclient.Client, error) {
	if cfg.Generation.Offline {
		return genclient.NewFakeClient(), nil
	}
	if cfg.Generation.APIKey == "" {
		log.Fatal("GEMINI_API_KEY is not set (or set GEN_OFFLINE=true)")
	}
	return genclient.NewGeminiClient(ctx, cfg.Generation.APIKey, cfg.Generation.Model, cfg.Generation.CostPerImage)
}

func buildPersister(cfg *config.Config) (queue.Persister, error) {
	if cfg.Artifact.Enabled {
		return persist.NewS3Store(persist.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		})
	}
	return persist.NewFileStore("approved")
}
