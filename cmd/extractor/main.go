// Package main wires together the extraction service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uda-platform/doc-extractor/internal/api"
	"github.com/uda-platform/doc-extractor/internal/clock/system"
	"github.com/uda-platform/doc-extractor/internal/config"
	"github.com/uda-platform/doc-extractor/internal/crawl"
	"github.com/uda-platform/doc-extractor/internal/events"
	"github.com/uda-platform/doc-extractor/internal/extraction"
	"github.com/uda-platform/doc-extractor/internal/graph"
	"github.com/uda-platform/doc-extractor/internal/hash/sha256"
	"github.com/uda-platform/doc-extractor/internal/id/uuid"
	"github.com/uda-platform/doc-extractor/internal/logging"
	"github.com/uda-platform/doc-extractor/internal/orchestrator"
	"github.com/uda-platform/doc-extractor/internal/render"
	"github.com/uda-platform/doc-extractor/internal/storage"
	storagemem "github.com/uda-platform/doc-extractor/internal/storage/memory"
	"github.com/uda-platform/doc-extractor/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobStore := storagemem.NewJobStore()
	hasher := sha256.New()
	clk := system.New()
	idGen := uuid.NewGenerator()

	blobStore, closeBlobs, err := storage.NewArchiveStore(ctx, cfg, logger.Named("storage"))
	if err != nil {
		logger.Fatal("archive store init failed", zap.Error(err))
	}
	defer closeBlobs()

	eventPub, closeEvents, err := events.NewPublisher(ctx, cfg, logger.Named("events"))
	if err != nil {
		logger.Fatal("event publisher init failed", zap.Error(err))
	}
	defer closeEvents()

	var jobArchiver extraction.JobArchiver
	var archiveLookup orchestrator.ArchiveReader
	if cfg.DB.DSN != "" {
		jobArchive, archiveErr := postgres.NewJobArchive(ctx, postgres.JobArchiveConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns),
		})
		if archiveErr != nil {
			logger.Fatal("job archive init failed", zap.Error(archiveErr))
		}
		defer jobArchive.Close()
		jobArchiver = jobArchive
		archiveLookup = jobArchive
	}

	var graphPub extraction.GraphPublisher
	if cfg.Graph.Enabled {
		graphPub = graph.NewPublisher(
			graph.NewClient(cfg.Graph.BaseURL, cfg.GraphTimeout()),
			logger.Named("graph"),
		)
	}

	static := render.NewStatic(render.StaticConfig{
		UserAgent: cfg.Render.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})
	var headless extraction.Renderer
	if cfg.Render.Mode != config.RenderModeStatic {
		hr, headlessErr := render.NewHeadless(render.HeadlessConfig{
			MaxParallel:   cfg.Render.MaxParallel,
			UserAgent:     cfg.Render.UserAgent,
			NavTimeout:    cfg.NavTimeout(),
			NoSandbox:     cfg.Render.NoSandbox,
			DisableDevShm: cfg.Render.DisableDevShm,
		})
		switch {
		case headlessErr != nil && cfg.Render.Mode == config.RenderModeHeadless:
			logger.Fatal("headless renderer init failed", zap.Error(headlessErr))
		case headlessErr != nil:
			logger.Warn("headless renderer init failed, serving static fetches only", zap.Error(headlessErr))
		default:
			defer hr.Close()
			headless = hr
		}
	}
	detector := render.NewDetector(cfg.Render.MinHTMLBytes, splitSelectors(cfg.Render.RequiredSelectors), nil)
	renderer := render.NewPromoting(render.Mode(cfg.Render.Mode), static, headless, detector, logger.Named("render"))

	loop := crawl.New(
		jobStore,
		renderer,
		extraction.NewExtractor(clk),
		graphPub,
		blobStore,
		jobArchiver,
		eventPub,
		hasher,
		clk,
		crawl.Config{
			ContentType: cfg.Archive.ContentType,
			BlobPrefix:  cfg.Archive.Prefix,
		},
		logger.Named("crawl"),
	)

	orch := orchestrator.New(
		jobStore,
		loop,
		idGen,
		clk,
		archiveLookup,
		orchestrator.Config{
			DefaultMaxDepth: cfg.Jobs.DefaultMaxDepth,
			MaxSelectors:    cfg.Jobs.MaxSelectors,
			MaxConcurrent:   cfg.Jobs.MaxConcurrent,
		},
		logger.Named("orchestrator"),
	)

	apiServer := api.NewServer(orch, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("job shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func splitSelectors(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
