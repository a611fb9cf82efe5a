package health

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type stubPinger struct {
	err error
}

func (p stubPinger) PingContext(ctx context.Context) error {
	return p.err
}

func TestHealthEndpoints_Health(t *testing.T) {
	tests := []struct {
		name         string
		db           Pinger
		wantStatus   int
		wantDatabase string
	}{
		{"no database", nil, fasthttp.StatusOK, "unchecked"},
		{"database up", stubPinger{}, fasthttp.StatusOK, "ok"},
		{"database down", stubPinger{err: errors.New("connection refused")}, fasthttp.StatusServiceUnavailable, "unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := &fasthttp.RequestCtx{}

			NewEndpoints("1.2.3", tt.db).Health(ctx)

			assert.Equal(t, tt.wantStatus, ctx.Response.StatusCode())
			var response HealthResponse
			require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
			assert.Equal(t, "1.2.3", response.Version)
			assert.Equal(t, tt.wantDatabase, response.Database)
		})
	}
}
