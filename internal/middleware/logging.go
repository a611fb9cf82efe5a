package middleware

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// RequestLogger logs one line per request. Server errors log at error level, client errors at
// warn, the rest at debug.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		started := time.Now()
		next(ctx)

		status := ctx.Response.StatusCode()
		var event *zerolog.Event
		switch {
		case status >= fasthttp.StatusInternalServerError:
			event = log.Error()
		case status >= fasthttp.StatusBadRequest:
			event = log.Warn()
		default:
			event = log.Debug()
		}

		event.
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", status).
			Dur("duration", time.Since(started)).
			Str("remoteIp", ctx.RemoteIP().String()).
			Msg("Request handled")
	}
}
