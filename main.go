package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/prappser/memories_server/internal"
	"github.com/prappser/memories_server/internal/health"
	"github.com/prappser/memories_server/internal/ingest"
	"github.com/prappser/memories_server/internal/media"
	"github.com/prappser/memories_server/internal/middleware"
	"github.com/prappser/memories_server/internal/storage"
	"github.com/prappser/memories_server/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const multipartOverhead = 1 << 20

func main() {
	config, err := internal.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
		return
	}
	internal.SetupLogging(config.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db    *sql.DB
		store media.Store
	)
	if config.Database.Driver == "memory" {
		log.Warn().Msg("Using in-memory record store, media records will not survive a restart")
		store = media.NewMemoryStore()
	} else {
		db, err = internal.NewDB(config.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing database")
			return
		}
		defer db.Close()
		store = media.NewPostgresStore(db)
	}

	backend, err := storage.NewBackend(ctx, &config.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing object storage")
		return
	}
	log.Info().Str("type", string(config.Storage.Type)).Msg("Object storage initialized")

	hub := websocket.NewHub()
	go hub.Run()

	adapter := storage.NewAdapter(backend, &config.Storage)
	repository := media.NewRepository(store, backend, config.Ingest.CallTimeout)
	orchestrator := ingest.NewOrchestrator(adapter, repository, hub, config.Ingest)
	sessions := ingest.NewSessions(config.Ingest)

	if config.Storage.Sweep.Enabled {
		sweeper := storage.NewSweeper(backend, repository, config.Storage.KeyPrefix, config.Storage.Sweep)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	var pinger health.Pinger
	if db != nil {
		pinger = db
	}
	endpoints := internal.Endpoints{
		Health:    health.NewEndpoints(config.Server.Version, pinger),
		Media:     media.NewEndpoints(repository, hub),
		Ingest:    ingest.NewEndpoints(orchestrator, sessions),
		WebSocket: websocket.NewHandler(hub, middleware.NewCORSMiddleware(config.Server.AllowedOrigins).IsOriginAllowed),
	}
	if local, ok := backend.(*storage.LocalStorage); ok {
		endpoints.Files = storage.NewFileEndpoints(local)
	}

	server := &fasthttp.Server{
		Handler:            internal.NewRequestHandler(config, endpoints),
		Name:               "memories",
		MaxRequestBodySize: int(config.Storage.MaxFileSize) + multipartOverhead,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		if err := server.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Error shutting down server")
		}
	}()

	log.Info().Str("address", config.Server.Address).Str("version", config.Server.Version).Msg("Server starting")
	if err := server.ListenAndServe(config.Server.Address); err != nil {
		log.Fatal().Err(err).Msg("Error starting server")
	}
}
