// Command server runs the tenant-facing HR and payroll web application.
package main

import (
	"net/http"
	"os"

	"github.com/OniT-Enterprises/meza/internal/server"
	"github.com/OniT-Enterprises/meza/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getenvDefault("LOG_LEVEL", "info"),
		Development: os.Getenv("DEV_LOG_PRETTY") == "1",
	})
	if err != nil {
		log = logger.Default()
	}
	defer func() { _ = log.Sync() }()

	addr := getenvDefault("HTTP_ADDR", ":8080")

	h, err := server.NewHandler()
	if err != nil {
		log.Fatalw("build handler", "error", err)
	}

	log.Infow("listening", "addr", addr)
	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatalw("serve", "error", err)
	}
}

func getenvDefault(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
