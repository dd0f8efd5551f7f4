package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sheetchat/internal/api"
	"sheetchat/internal/chat"
	"sheetchat/internal/config"
	"sheetchat/internal/confirm"
	"sheetchat/internal/gemini"
	"sheetchat/internal/llm"
	"sheetchat/internal/mcputil"
	"sheetchat/internal/storage"
	"sheetchat/internal/tools"
	"sheetchat/internal/workbook"
)

var serveMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sheetchat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", true, "also serve MCP tools over stdio")
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "sheetchat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	wb := workbook.New(cfg.Workbook.Path)
	if sheets := wb.ListSheets(); len(sheets) == 0 {
		printWarning("workbook missing or empty at %s; run `sheetchat seed` to create the demo file", cfg.Workbook.Path)
	}

	registry := tools.NewRegistry(wb, logger)
	confirms := confirm.NewManager(wb, store, cfg.Confirm.TTL, logger)

	var model chat.Model
	if cfg.Gemini.APIKey != "" {
		client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return fmt.Errorf("creating Gemini client: %w", err)
		}
		model = chat.ModelFunc(func(ctx context.Context, req llm.Request) (chat.ModelStream, error) {
			return client.Stream(ctx, req)
		})
		logger.Info("Gemini client ready", "model", cfg.Gemini.Model)
	} else {
		logger.Warn("GEMINI_API_KEY not set; chat turns will fail until it is provided")
	}

	orch := chat.NewOrchestrator(store, wb, registry, confirms, model, logger)

	handler := api.NewHandler(api.Deps{
		Store:         store,
		Turns:         orch,
		Workbook:      wb,
		Confirms:      confirms,
		StrictConfirm: cfg.Confirm.Strict,
		Logger:        logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "sheetchat listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := confirms.RunSweeper(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if serveMCP {
		mcpSrv := mcputil.NewServer(mcputil.Deps{
			Workbook:     wb,
			StrictWrites: cfg.Confirm.Strict,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		logger.Info("MCP server started (stdio transport)")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "shutting down...")
	return nil
}
