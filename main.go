package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/z1x2c3v4b5n6/wechat/config"
	"github.com/z1x2c3v4b5n6/wechat/db"
	"github.com/z1x2c3v4b5n6/wechat/server"
)

func main() {
	cfg := config.Load()
	pflag.StringVar(&cfg.Addr, "addr", cfg.Addr, "chat listen address")
	pflag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "metrics listen address")
	pflag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path")
	pflag.Parse()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	if err := database.BootstrapDefaultAdmin(); err != nil {
		log.Fatalf("Failed to bootstrap default admin: %v", err)
	}

	srv := server.New(database, &server.ServerConfig{
		Addr:         cfg.Addr,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			log.Printf("metrics endpoint error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		srv.Stop()
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
