// Package main runs the synthetic observation backend used to exercise
// the map layer during development.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/birdmap/maplayer/internal/devserver"
)

func main() {
	addr := flag.String("addr", ":8600", "Listen address")
	origins := flag.String("cors-origins", "*", "Comma-separated allowed CORS origins")
	dataVersion := flag.Int64("data-version", 1, "Data version reported in X-Data-Version")
	points := flag.Int("points-per-tile", 8, "Synthetic observations per tile")
	deleted := flag.String("deleted-uploads", "", "Comma-separated upload IDs that answer 410 Gone")
	flag.Parse()

	deletedUploads := make(map[int64]bool)
	for _, raw := range strings.Split(*deleted, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Fatalf("Invalid upload id %q: %v", raw, err)
		}
		deletedUploads[id] = true
	}

	router := devserver.NewRouter(devserver.RouterConfig{
		CORSOrigins:    strings.Split(*origins, ","),
		DataVersion:    *dataVersion,
		DeletedUploads: deletedUploads,
		PointsPerTile:  *points,
	})

	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Dev backend listening on %s (data version %d)", *addr, *dataVersion)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
