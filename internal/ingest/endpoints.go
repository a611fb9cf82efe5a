package ingest

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
	"github.com/prappser/memories_server/internal/media"
	"github.com/prappser/memories_server/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const filesFormField = "files"

type Endpoints struct {
	orchestrator *Orchestrator
	sessions     *Sessions
}

func NewEndpoints(orchestrator *Orchestrator, sessions *Sessions) *Endpoints {
	return &Endpoints{
		orchestrator: orchestrator,
		sessions:     sessions,
	}
}

type batchResponse struct {
	Batch         Batch          `json:"batch"`
	Current       *PendingUpload `json:"current,omitempty"`
	ReadyToCommit bool           `json:"readyToCommit"`
	Error         string         `json:"error,omitempty"`
}

// CreateBatch handles POST /ingest
func (e *Endpoints) CreateBatch(ctx *fasthttp.RequestCtx) {
	batch := e.sessions.Create()
	writeBatch(ctx, fasthttp.StatusCreated, batch, nil)
}

// GetBatch handles GET /ingest/{id}
func (e *Endpoints) GetBatch(ctx *fasthttp.RequestCtx) {
	batch, err := e.sessions.Get(batchID(ctx))
	if err != nil {
		writeBatchError(ctx, batch, err)
		return
	}
	writeBatch(ctx, fasthttp.StatusOK, batch, nil)
}

// SelectFiles handles POST /ingest/{id}/files with a multipart body of one or more "files" parts.
func (e *Endpoints) SelectFiles(ctx *fasthttp.RequestCtx) {
	contentType := string(ctx.Request.Header.ContentType())
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		ctx.Error("Content-Type must be multipart/form-data", fasthttp.StatusBadRequest)
		return
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		ctx.Error("Failed to parse multipart form", fasthttp.StatusBadRequest)
		return
	}

	headers := form.File[filesFormField]
	if len(headers) == 0 {
		ctx.Error("No file uploaded", fasthttp.StatusBadRequest)
		return
	}

	files := make([]LocalFile, 0, len(headers))
	for _, header := range headers {
		file, err := readLocalFile(header)
		if err != nil {
			log.Error().Err(err).Str("name", header.Filename).Msg("Failed to read uploaded file")
			ctx.Error("Failed to read uploaded file", fasthttp.StatusBadRequest)
			return
		}
		files = append(files, file)
	}

	e.update(ctx, func(b Batch) (Batch, error) {
		return e.orchestrator.SelectFiles(b, files)
	})
}

func readLocalFile(header *multipart.FileHeader) (LocalFile, error) {
	file, err := header.Open()
	if err != nil {
		return LocalFile{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return LocalFile{}, err
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}
	return LocalFile{Name: header.Filename, MimeType: mimeType, Data: data}, nil
}

// SelectURLs handles POST /ingest/{id}/urls. The body is plain text, one URL per line.
func (e *Endpoints) SelectURLs(ctx *fasthttp.RequestCtx) {
	text := string(ctx.PostBody())
	e.update(ctx, func(b Batch) (Batch, error) {
		return e.orchestrator.SelectURLs(b, text)
	})
}

// Transfer handles POST /ingest/{id}/transfer. GET /ingest/{id} reports transferring until it
// returns.
func (e *Endpoints) Transfer(ctx *fasthttp.RequestCtx) {
	id := batchID(ctx)
	e.update(ctx, func(b Batch) (Batch, error) {
		if b.check(ActionTransfer) == nil && len(b.Inputs) > 0 {
			inFlight := b
			inFlight.State = StateTransferring
			inFlight.Err = ""
			e.sessions.Publish(id, inFlight)
		}
		return e.orchestrator.Transfer(context.Background(), b)
	})
}

// Annotate handles POST /ingest/{id}/annotate. Annotating the last pending upload commits the
// batch.
func (e *Endpoints) Annotate(ctx *fasthttp.RequestCtx) {
	metadata, err := media.DecodeMetadata(ctx.PostBody())
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}
	e.update(ctx, func(b Batch) (Batch, error) {
		next, err := e.orchestrator.Annotate(b, metadata)
		if err != nil {
			return next, err
		}
		return e.commitWhenReady(next)
	})
}

// Skip handles POST /ingest/{id}/skip
func (e *Endpoints) Skip(ctx *fasthttp.RequestCtx) {
	e.update(ctx, func(b Batch) (Batch, error) {
		next, err := e.orchestrator.Skip(b)
		if err != nil {
			return next, err
		}
		return e.commitWhenReady(next)
	})
}

// Commit handles POST /ingest/{id}/commit, used to retry a halted commit.
func (e *Endpoints) Commit(ctx *fasthttp.RequestCtx) {
	e.update(ctx, func(b Batch) (Batch, error) {
		return e.orchestrator.Commit(context.Background(), b)
	})
}

// Reset handles POST /ingest/{id}/reset
func (e *Endpoints) Reset(ctx *fasthttp.RequestCtx) {
	e.update(ctx, func(b Batch) (Batch, error) {
		return e.orchestrator.Reset(b), nil
	})
}

// DeleteBatch handles DELETE /ingest/{id}
func (e *Endpoints) DeleteBatch(ctx *fasthttp.RequestCtx) {
	id := batchID(ctx)
	_, err := e.sessions.Update(id, func(b Batch) (Batch, error) {
		return e.orchestrator.Reset(b), nil
	})
	if err != nil {
		writeBatchError(ctx, Batch{}, err)
		return
	}
	e.sessions.Delete(id)
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (e *Endpoints) commitWhenReady(b Batch) (Batch, error) {
	if !b.ReadyToCommit() {
		return b, nil
	}
	return e.orchestrator.Commit(context.Background(), b)
}

func (e *Endpoints) update(ctx *fasthttp.RequestCtx, fn func(Batch) (Batch, error)) {
	batch, err := e.sessions.Update(batchID(ctx), fn)
	if err != nil {
		writeBatchError(ctx, batch, err)
		return
	}
	writeBatch(ctx, fasthttp.StatusOK, batch, nil)
}

func batchID(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue("batchID").(string)
	return id
}

// statusFor maps ingestion errors to HTTP status codes.
func statusFor(err error) int {
	var (
		transitionErr  *TransitionError
		validationErr  *media.ValidationError
		fetchErr       *storage.FetchError
		unsupportedErr *storage.UnsupportedTypeError
	)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return fasthttp.StatusNotFound
	case errors.As(err, &transitionErr),
		errors.Is(err, ErrEmptyBatch),
		errors.Is(err, ErrAnnotationComplete),
		errors.Is(err, ErrAnnotationIncomplete):
		return fasthttp.StatusConflict
	case errors.As(err, &fetchErr):
		return fasthttp.StatusBadGateway
	case errors.As(err, &validationErr), errors.Is(err, storage.ErrEmptyBlob):
		return fasthttp.StatusBadRequest
	case errors.Is(err, storage.ErrBlobTooLarge):
		return fasthttp.StatusRequestEntityTooLarge
	case errors.As(err, &unsupportedErr):
		return fasthttp.StatusUnsupportedMediaType
	default:
		return fasthttp.StatusInternalServerError
	}
}

func writeBatchError(ctx *fasthttp.RequestCtx, batch Batch, err error) {
	status := statusFor(err)
	if status == fasthttp.StatusNotFound {
		ctx.Error("Ingest batch not found", status)
		return
	}
	if status == fasthttp.StatusInternalServerError {
		log.Error().Err(err).Str("batchId", batch.ID).Msg("Ingest request failed")
	}
	writeBatch(ctx, status, batch, err)
}

func writeBatch(ctx *fasthttp.RequestCtx, status int, batch Batch, err error) {
	response := batchResponse{
		Batch:         batch,
		ReadyToCommit: batch.ReadyToCommit(),
	}
	if current, ok := batch.Current(); ok {
		response.Current = &current
	}
	if err != nil {
		response.Error = err.Error()
	}

	body, marshalErr := json.Marshal(response)
	if marshalErr != nil {
		log.Error().Err(marshalErr).Msg("Failed to encode response")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}
