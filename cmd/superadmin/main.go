// Command superadmin runs the operator console for tenant management.
package main

import (
	"net/http"
	"os"

	"github.com/OniT-Enterprises/meza/internal/superadmin"
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

	addr := getenvDefault("SUPERADMIN_HTTP_ADDR", ":8081")

	h, err := superadmin.NewHandler()
	if err != nil {
		log.Fatalw("build handler", "error", err)
	}

	log.Infow("superadmin listening", "addr", addr)
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
