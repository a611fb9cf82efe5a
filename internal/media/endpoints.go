package media

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// Notifier tells presentation surfaces that the media listing changed.
type Notifier interface {
	MediaChanged(reason, mediaID string)
}

type Endpoints struct {
	repository *Repository
	notifier   Notifier
}

func NewEndpoints(repository *Repository, notifier Notifier) *Endpoints {
	return &Endpoints{
		repository: repository,
		notifier:   notifier,
	}
}

type addCommentRequest struct {
	Comment string `json:"comment"`
}

// DecodeMetadata parses a metadata snapshot and rejects any key other than description, location
// and takenDate.
func DecodeMetadata(body []byte) (Metadata, error) {
	var metadata Metadata
	if len(bytes.TrimSpace(body)) == 0 {
		return metadata, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&metadata); err != nil {
		return Metadata{}, &ValidationError{Field: "metadata", Message: err.Error()}
	}
	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}
	return metadata.Normalize(), nil
}

// ListMedia handles GET /media
func (e *Endpoints) ListMedia(ctx *fasthttp.RequestCtx) {
	items, err := e.repository.GetAllMedia(context.Background())
	if err != nil {
		WriteError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, items)
}

// GetMedia handles GET /media/{id}
func (e *Endpoints) GetMedia(ctx *fasthttp.RequestCtx) {
	item, err := e.repository.GetMediaItem(context.Background(), mediaID(ctx))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, item)
}

// UpdateMedia handles PUT /media/{id}. The body is the full metadata snapshot.
func (e *Endpoints) UpdateMedia(ctx *fasthttp.RequestCtx) {
	metadata, err := DecodeMetadata(ctx.PostBody())
	if err != nil {
		WriteError(ctx, err)
		return
	}

	item, err := e.repository.UpdateMediaItem(context.Background(), mediaID(ctx), metadata)
	if err != nil {
		WriteError(ctx, err)
		return
	}

	e.notify("updated", item.ID)
	writeJSON(ctx, fasthttp.StatusOK, item)
}

// DeleteMedia handles DELETE /media/{id}
func (e *Endpoints) DeleteMedia(ctx *fasthttp.RequestCtx) {
	id := mediaID(ctx)
	item, err := e.repository.GetMediaItem(context.Background(), id)
	if err != nil {
		WriteError(ctx, err)
		return
	}

	if err := e.repository.DeleteMediaItem(context.Background(), item.ID, item.StoragePath); err != nil {
		WriteError(ctx, err)
		return
	}

	e.notify("deleted", item.ID)
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// AddComment handles POST /media/{id}/comments
func (e *Endpoints) AddComment(ctx *fasthttp.RequestCtx) {
	var req addCommentRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.Error("Invalid request body", fasthttp.StatusBadRequest)
		return
	}

	comment, err := e.repository.AddComment(context.Background(), mediaID(ctx), req.Comment)
	if err != nil {
		WriteError(ctx, err)
		return
	}

	e.notify("commented", comment.MediaID)
	writeJSON(ctx, fasthttp.StatusCreated, comment)
}

// DeleteComment handles DELETE /comments/{id}
func (e *Endpoints) DeleteComment(ctx *fasthttp.RequestCtx) {
	commentID, _ := ctx.UserValue("commentID").(string)
	if err := e.repository.DeleteComment(context.Background(), commentID); err != nil {
		WriteError(ctx, err)
		return
	}

	e.notify("comment_deleted", "")
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (e *Endpoints) notify(reason, id string) {
	if e.notifier != nil {
		e.notifier.MediaChanged(reason, id)
	}
}

func mediaID(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue("mediaID").(string)
	return strings.TrimSpace(id)
}

// WriteError maps repository errors to status codes: validation 400, missing 404, anything else
// 500.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		ctx.Error(validationErr.Error(), fasthttp.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		ctx.Error("Media not found", fasthttp.StatusNotFound)
	default:
		log.Error().Err(err).Str("path", string(ctx.Path())).Msg("Media request failed")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, value any) {
	body, err := json.Marshal(value)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}
