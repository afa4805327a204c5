package main

import (
	"context"
	"design-editor/core"
	"design-editor/handlers/api/documents"
	"design-editor/handlers/websocket"
	"design-editor/notify"
	"design-editor/stores"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type activeDocument struct {
	ID      string `json:"id"`
	Editors int    `json:"editors"`
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	switch parsed.Scheme {
	case "http", "https":
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	case "tauri":
		return parsed.Hostname() == "localhost"
	}

	return false
}

func setupRouter(store stores.Store, notifier core.Notifier, collab *websocket.Collab) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"tauri://localhost"},
		AllowOriginFunc:  allowOrigin,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Mount("/api/v1/documents", documents.Routes(store, notifier))

	r.Get("/api/active", func(w http.ResponseWriter, r *http.Request) {
		active := collab.ActiveDocuments()
		list := make([]activeDocument, 0, len(active))
		for id, n := range active {
			list = append(list, activeDocument{ID: id, Editors: n})
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Editors == list[j].Editors {
				return list[i].ID < list[j].ID
			}
			return list[i].Editors > list[j].Editors
		})
		render.JSON(w, r, list)
	})

	r.Handle("/socket.io/", collab.Server().ServeHandler(nil))
	return r
}

func waitForShutdown(srv *http.Server, collab *websocket.Collab, store stores.Store) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signals
	logrus.WithField("signal", s.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	collab.Close()
	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close storage")
		}
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	store, err := stores.GetStore(context.Background())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open storage")
	}
	hub := notify.NewHub()
	collab := websocket.NewCollab(hub)

	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: setupRouter(store, hub, collab),
	}

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(srv, collab, store)
}
