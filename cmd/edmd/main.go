package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"example.com/edmgate/internal/common"
	"example.com/edmgate/internal/config"
	"example.com/edmgate/internal/rules"
	"example.com/edmgate/internal/server"
	"example.com/edmgate/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	envFile := flag.String("env", "", "dotenv file (default .env)")
	addr := flag.String("addr", "", "listen address (overrides server.port)")
	withStore := flag.Bool("store", false, "archive decode results in the configured SQLite store")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(*configPath, envFiles...)
	if err != nil {
		common.Fatalf("load config: %v", err)
	}
	if err := os.MkdirAll(cfg.Server.StorageDir, 0o755); err != nil {
		common.Fatalf("storage dir: %v", err)
	}
	rotation := cfg.Rotation()
	if rotation.Directory == "" {
		rotation.Directory = filepath.Join(cfg.Server.StorageDir, "logs")
	}
	rotation.FileName = "edmd.log"
	w, err := common.RotatingWriter(rotation)
	if err != nil {
		common.Fatalf("setup logging: %v", err)
	}
	logger := common.NewLogger(w, cfg.LogLevel())
	common.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		common.Fatalf("%v", err)
	}
	var db *store.DB
	if *withStore {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			common.Fatalf("store dir: %v", err)
		}
		db, err = store.Open(cfg.Store.Path)
		if err != nil {
			common.Fatalf("open store: %v", err)
		}
		defer db.Close()
	}

	rp, err := rules.LoadOrDefault(cfg.Rules.Pack)
	if err != nil {
		common.Fatalf("rule pack: %v", err)
	}

	srv, err := server.NewServer(server.Options{
		StorageDir:     cfg.Server.StorageDir,
		Concurrency:    cfg.Decode.Concurrency,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		Location:       loc,
		Logger:         logger,
		Store:          db,
		ReportAuthor:   cfg.Report.Author,
		RulePack:       rp,
	})
	if err != nil {
		common.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	if *addr != "" {
		listenAddr = *addr
	}
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Infof("edmd listening on %s", listenAddr)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	logger.Infof("edmd stopped")
}
