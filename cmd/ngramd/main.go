package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lm-go/internal/config"
	"lm-go/internal/controller"
	"lm-go/internal/handler"
	"lm-go/internal/service"
	"lm-go/internal/service/corpus"
	"lm-go/pkg/mcp"

	"go.uber.org/zap"
)

func main() {
	var appConfigPath = flag.String("app", "app.yaml", "Path to app configuration file")
	var port = flag.Int("port", 0, "Server port (overrides configuration)")
	var dbPath = flag.String("db", "", "Corpus database path (overrides configuration)")
	var logLevel = flag.String("log-level", "", "Log level (overrides configuration)")
	flag.Parse()

	cfg, err := config.LoadConfig(*appConfigPath)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := cfg.BuildLogger()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded successfully", zap.Any("config", cfg))

	if dir := filepath.Dir(cfg.Storage.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("Failed to create data directory", zap.Error(err))
		}
	}
	store, err := corpus.OpenSQLiteStore(cfg.Storage.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open corpus store", zap.Error(err))
	}
	defer store.Close()

	lmService, err := service.NewLMService(store, nil, cfg.ServiceOptions(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize LM service", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seedCorpora(ctx, cfg, lmService, logger)

	var mcpServer *mcp.LMServer
	if cfg.MCP.Enabled {
		mcpServer = mcp.NewLMServer(lmService, logger)
	}
	router := handler.SetupRouter(controller.NewCorpusController(lmService, logger), mcpServer, cfg.MCP.Path, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting server", zap.Int("port", cfg.Server.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
	logger.Info("Server stopped")
}

// seedCorpora loads the corpora named in the configuration that the store
// does not hold yet.
func seedCorpora(ctx context.Context, cfg *config.Config, lmService *service.LMService, logger *zap.Logger) {
	existing, err := lmService.ListCorpora(ctx)
	if err != nil {
		logger.Error("Failed to list corpora", zap.Error(err))
		return
	}
	have := make(map[string]bool, len(existing))
	for _, info := range existing {
		have[info.Name] = true
	}

	for _, cc := range cfg.Corpora {
		if have[cc.Name] {
			logger.Info("Corpus already stored", zap.String("corpus", cc.Name))
			continue
		}
		if err := lmService.CreateCorpus(ctx, cc.Name, cc.Language); err != nil {
			logger.Error("Failed to create corpus", zap.String("corpus", cc.Name), zap.Error(err))
			continue
		}
		if cc.Path != "" {
			files, err := lmService.IngestDirectory(ctx, cc.Name, cc.Path)
			if err != nil {
				logger.Error("Failed to ingest corpus directory", zap.String("corpus", cc.Name), zap.Error(err))
				continue
			}
			logger.Info("Seeded corpus from directory", zap.String("corpus", cc.Name), zap.Int("files", files))
		}
		if cc.File != "" {
			lines, err := corpus.ReadAll(corpus.NewFile(cc.File))
			if err != nil {
				logger.Error("Failed to read corpus file", zap.String("corpus", cc.Name), zap.Error(err))
				continue
			}
			n, err := lmService.AppendLines(ctx, cc.Name, lines)
			if err != nil {
				logger.Error("Failed to append corpus file", zap.String("corpus", cc.Name), zap.Error(err))
				continue
			}
			logger.Info("Seeded corpus from file", zap.String("corpus", cc.Name), zap.Int("lines", n))
		}
	}
}
