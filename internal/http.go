package internal

import (
	"strings"

	"github.com/prappser/memories_server/internal/health"
	"github.com/prappser/memories_server/internal/ingest"
	"github.com/prappser/memories_server/internal/media"
	"github.com/prappser/memories_server/internal/metrics"
	"github.com/prappser/memories_server/internal/middleware"
	"github.com/prappser/memories_server/internal/storage"
	"github.com/prappser/memories_server/internal/websocket"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	Health *health.HealthEndpoints
	Media  *media.Endpoints
	Ingest *ingest.Endpoints
	// Files is nil unless the local backend is configured.
	Files     *storage.FileEndpoints
	WebSocket *websocket.Handler
}

func NewRequestHandler(config *Config, endpoints Endpoints) fasthttp.RequestHandler {
	corsMiddleware := middleware.NewCORSMiddleware(config.Server.AllowedOrigins)
	metricsHandler := metrics.Handler()

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/health":
			endpoints.Health.Health(ctx)
		case path == "/metrics":
			metricsHandler(ctx)
		case path == "/ws":
			endpoints.WebSocket.HandleFastHTTP(ctx)

		case strings.HasPrefix(path, "/files/"):
			if endpoints.Files == nil || (method != fasthttp.MethodGet && method != fasthttp.MethodHead) {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
				return
			}
			ctx.SetUserValue("key", strings.TrimPrefix(path, "/files/"))
			endpoints.Files.GetFile(ctx)

		case path == "/media":
			if method == fasthttp.MethodGet {
				endpoints.Media.ListMedia(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case strings.HasPrefix(path, "/media/"):
			routeMedia(ctx, endpoints.Media, strings.Split(path, "/"), method)
		case strings.HasPrefix(path, "/comments/"):
			parts := strings.Split(path, "/")
			if len(parts) != 3 || parts[2] == "" {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
				return
			}
			ctx.SetUserValue("commentID", parts[2])
			if method == fasthttp.MethodDelete {
				endpoints.Media.DeleteComment(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}

		case path == "/ingest":
			if method == fasthttp.MethodPost {
				endpoints.Ingest.CreateBatch(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case strings.HasPrefix(path, "/ingest/"):
			routeIngest(ctx, endpoints.Ingest, strings.Split(path, "/"), method)

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return middleware.RequestLogger(corsMiddleware.Handle(handler))
}

// routeMedia handles /media/{id} and /media/{id}/comments.
func routeMedia(ctx *fasthttp.RequestCtx, endpoints *media.Endpoints, parts []string, method string) {
	if len(parts) < 3 || parts[2] == "" {
		ctx.Error("Not Found", fasthttp.StatusNotFound)
		return
	}
	ctx.SetUserValue("mediaID", parts[2])

	switch {
	case len(parts) == 3:
		switch method {
		case fasthttp.MethodGet:
			endpoints.GetMedia(ctx)
		case fasthttp.MethodPut:
			endpoints.UpdateMedia(ctx)
		case fasthttp.MethodDelete:
			endpoints.DeleteMedia(ctx)
		default:
			ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
		}
	case len(parts) == 4 && parts[3] == "comments":
		if method == fasthttp.MethodPost {
			endpoints.AddComment(ctx)
		} else {
			ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
		}
	default:
		ctx.Error("Not Found", fasthttp.StatusNotFound)
	}
}

var ingestActions = map[string]func(*ingest.Endpoints) fasthttp.RequestHandler{
	"files":    func(e *ingest.Endpoints) fasthttp.RequestHandler { return e.SelectFiles },
	"urls":     func(e *ingest.Endpoints) fasthttp.RequestHandler { return e.SelectURLs },
	"transfer": func(e *ingest.Endpoints) fasthttp.RequestHandler { return e.Transfer },
	"annotate": func(e *ingest.Endpoints) fasthttp.RequestHandler { return e.Annotate },
	"skip":     func(e *ingest.Endpoints) fasthttp.RequestHandler { return e.Skip },
	"commit":   func(e *ingest.Endpoints) fasthttp.RequestHandler { return e.Commit },
	"reset":    func(e *ingest.Endpoints) fasthttp.RequestHandler { return e.Reset },
}

// routeIngest handles /ingest/{id} and /ingest/{id}/{action}.
func routeIngest(ctx *fasthttp.RequestCtx, endpoints *ingest.Endpoints, parts []string, method string) {
	if len(parts) < 3 || parts[2] == "" {
		ctx.Error("Not Found", fasthttp.StatusNotFound)
		return
	}
	ctx.SetUserValue("batchID", parts[2])

	switch len(parts) {
	case 3:
		switch method {
		case fasthttp.MethodGet:
			endpoints.GetBatch(ctx)
		case fasthttp.MethodDelete:
			endpoints.DeleteBatch(ctx)
		default:
			ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
		}
	case 4:
		action, ok := ingestActions[parts[3]]
		if !ok {
			ctx.Error("Not Found", fasthttp.StatusNotFound)
			return
		}
		if method != fasthttp.MethodPost {
			ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			return
		}
		action(endpoints)(ctx)
	default:
		ctx.Error("Not Found", fasthttp.StatusNotFound)
	}
}
