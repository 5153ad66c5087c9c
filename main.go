package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banux/nxt-gallery/internal/config"
	"github.com/banux/nxt-gallery/internal/gallery"
	"github.com/banux/nxt-gallery/internal/serve"
	"github.com/banux/nxt-gallery/internal/server"
	"github.com/banux/nxt-gallery/internal/store"
	"github.com/banux/nxt-gallery/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "nxt-gallery: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := config.FindConfigFile()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.NewLogger(os.Stdout)
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("database opened", "path", cfg.DBPath)

	svc := gallery.New(st, cfg.UploadsDir, logger)
	def, err := svc.Bootstrap(ctx, gallery.BootstrapOptions{
		AdminUsername:   cfg.AdminUsername,
		AdminPassword:   cfg.AdminPassword,
		DefaultCategory: cfg.DefaultCategory,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("default category ready", "id", def.ID, "folder", def.FolderPath)
	if cfg.AdminPassword == config.Default().AdminPassword {
		logger.Warn("admin password is the built-in default, set GALLERY_ADMIN_PASSWORD")
	}

	fallback, err := loadFallback(cfg.FallbackAsset)
	if err != nil {
		return err
	}

	handler := server.New(svc, st, server.Options{
		StaticFS:       web.FS,
		Fallback:       fallback,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logger,
	})
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("nxt-gallery starting", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// loadFallback reads the configured fallback image, or the embedded
// placeholder when none is configured.
func loadFallback(path string) (serve.Asset, error) {
	if path != "" {
		asset, err := serve.LoadAsset(path)
		if err != nil {
			return serve.Asset{}, fmt.Errorf("load fallback asset %q: %w", path, err)
		}
		return asset, nil
	}
	data, err := fs.ReadFile(web.FS, web.PlaceholderName)
	if err != nil {
		return serve.Asset{}, fmt.Errorf("read embedded placeholder: %w", err)
	}
	return serve.Asset{ContentType: serve.ContentType(web.PlaceholderName), Data: data}, nil
}
