package health

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthEndpoints struct {
	version string
	db      Pinger
}

// NewEndpoints reports the database as unchecked when db is nil.
func NewEndpoints(version string, db Pinger) *HealthEndpoints {
	return &HealthEndpoints{
		version: version,
		db:      db,
	}
}

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

func (h *HealthEndpoints) Health(ctx *fasthttp.RequestCtx) {
	response := HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Database: "unchecked",
	}
	status := fasthttp.StatusOK

	if h.db != nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err := h.db.PingContext(pingCtx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("Health check database ping failed")
			response.Status = "degraded"
			response.Database = "unreachable"
			status = fasthttp.StatusServiceUnavailable
		} else {
			response.Database = "ok"
		}
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(responseJSON)
}
