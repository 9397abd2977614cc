package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pacdouglas/live-xumbrega/internal/archive"
	"github.com/pacdouglas/live-xumbrega/internal/config"
	"github.com/pacdouglas/live-xumbrega/internal/history"
	"github.com/pacdouglas/live-xumbrega/internal/hub"
	"github.com/pacdouglas/live-xumbrega/internal/kick"
	"github.com/pacdouglas/live-xumbrega/internal/server"
	"github.com/pacdouglas/live-xumbrega/internal/twitch"
	"github.com/pacdouglas/live-xumbrega/internal/viewers"
	"github.com/pacdouglas/live-xumbrega/internal/youtube"
)

func main() {
	log.Println("live-xumbrega starting...")

	// Get config path from environment variable or use default
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded successfully")

	log.Printf("Twitch channel: #%s", cfg.Twitch.Channel)
	log.Printf("Kick channel: %s", cfg.Kick.Channel)
	if cfg.YouTube.VideoID != "" {
		log.Printf("YouTube video: %s", cfg.YouTube.VideoID)
	} else {
		log.Printf("YouTube disabled (set youtube.video_id or YOUTUBE_VIDEO_ID to enable)")
	}

	// History is reset on every run, before any connector starts.
	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		log.Fatalf("Failed to open history log: %v", err)
	}

	h := hub.New(hist)
	srv := server.New(cfg.Server.Addr, cfg.Server.StaticDir, h, hist)

	// Setup context and signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start all components
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := twitch.New(cfg.Twitch.Channel, h).Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Twitch connector error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := kick.New(cfg.Kick.Channel, cfg.Kick.ChatroomID, h).Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Kick connector error: %v", err)
		}
	}()

	if cfg.YouTube.VideoID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := youtube.New(cfg.YouTube.VideoID, h).Run(ctx); err != nil && err != context.Canceled {
				log.Printf("YouTube connector error: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := time.Duration(cfg.Viewers.IntervalSeconds) * time.Second
		if err := viewers.New(cfg.Kick.Channel, cfg.YouTube.VideoID, interval, h).Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Viewers poller error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("All components started successfully")
	log.Printf("Multi chat: http://%s/xumbr3ga-multichat.html", cfg.Server.Addr)
	log.Printf("Overlay:    http://%s/xumbrega_overlay_webcam.html", cfg.Server.Addr)

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutdown signal received, initiating graceful shutdown...")

	// Stop the connectors and drop every SSE subscriber before asking the
	// server to shut down. An open event stream holds its handler in the
	// select loop, and Shutdown waits for handlers to return, so with a
	// viewer connected it would otherwise sit out the whole timeout.
	cancel()
	h.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}

	// Wait for components to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All components stopped gracefully")
	case <-shutdownCtx.Done():
		log.Println("Shutdown timeout exceeded, forcing exit")
	}

	if err := hist.Close(); err != nil {
		log.Printf("Error closing history log: %v", err)
	}

	// Archive the run's chat log if a bucket is configured. The upload gets
	// its own deadline; the shutdown context may already be spent.
	if cfg.S3.Bucket != "" {
		archiveCtx, archiveCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		archiveRun(archiveCtx, cfg, hist.Path())
		archiveCancel()
	}

	log.Println("live-xumbrega stopped")
}

// archiveRun uploads the history file to S3, best effort.
func archiveRun(ctx context.Context, cfg *config.Config, path string) {
	arch, err := archive.New(ctx, archive.Options{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		RoleARN:         cfg.S3.RoleARN,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		MaxRetries:      cfg.Archive.MaxRetries,
	})
	if err != nil {
		log.Printf("Failed to create archiver: %v", err)
		return
	}
	if err := arch.Store(ctx, path); err != nil {
		log.Printf("Failed to archive chat log: %v", err)
	}
}
