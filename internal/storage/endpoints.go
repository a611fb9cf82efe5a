package storage

import (
	"errors"
	"mime"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// FileEndpoints serves objects of the local backend under /files/, which is what LocalStorage.URL
// points at.
type FileEndpoints struct {
	local *LocalStorage
}

func NewFileEndpoints(local *LocalStorage) *FileEndpoints {
	return &FileEndpoints{local: local}
}

// GetFile handles GET /files/{key}
func (e *FileEndpoints) GetFile(ctx *fasthttp.RequestCtx) {
	key, _ := ctx.UserValue("key").(string)
	key = strings.TrimPrefix(key, "/")

	file, err := e.local.Open(key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrInvalidKey) {
			ctx.Error("File not found", fasthttp.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("key", key).Msg("Failed to open file")
		ctx.Error("Failed to read file", fasthttp.StatusInternalServerError)
		return
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		log.Error().Err(err).Str("key", key).Msg("Failed to stat file")
		ctx.Error("Failed to read file", fasthttp.StatusInternalServerError)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctx.SetContentType(contentType)
	ctx.Response.Header.Set("Cache-Control", "public, max-age=31536000, immutable")
	// fasthttp closes the stream once the body is written
	ctx.SetBodyStream(file, int(info.Size()))
}
