package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prappser/memories_server/internal/media"
	"github.com/prappser/memories_server/internal/metrics"
	"github.com/prappser/memories_server/internal/storage"
	"github.com/rs/zerolog/log"
)

const (
	defaultCallTimeout   = 30 * time.Second
	defaultMaxBatchItems = 50
	defaultMaxBatchBytes = 256 * 1024 * 1024
	remoteFallbackExt    = ".jpg"
)

type Uploader interface {
	UploadBlob(ctx context.Context, blob storage.Blob, suggestedName string) (*storage.Object, error)
	UploadFromURL(ctx context.Context, sourceURL, suggestedName string) (*storage.RemoteObject, error)
}

type MediaCreator interface {
	CreateMediaItem(ctx context.Context, newItem media.NewItem) (*media.Item, error)
}

// Orchestrator holds no batch state of its own. Callers keep the Batch and pass it back in.
type Orchestrator struct {
	uploader    Uploader
	creator     MediaCreator
	notifier    media.Notifier
	callTimeout time.Duration
	maxItems    int
	maxBytes    int64
	now         func() time.Time
}

func NewOrchestrator(uploader Uploader, creator MediaCreator, notifier media.Notifier, config Config) *Orchestrator {
	callTimeout := config.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	maxItems := config.MaxBatchItems
	if maxItems <= 0 {
		maxItems = defaultMaxBatchItems
	}
	maxBytes := config.MaxBatchBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBatchBytes
	}
	return &Orchestrator{
		uploader:    uploader,
		creator:     creator,
		notifier:    notifier,
		callTimeout: callTimeout,
		maxItems:    maxItems,
		maxBytes:    maxBytes,
		now:         time.Now,
	}
}

// SelectFiles adds device files to the batch. Files that are not images or videos are dropped
// without error. Switching from a URL selection replaces it. A selection that would take the batch
// past its item or byte limit is rejected and leaves the batch unchanged.
func (o *Orchestrator) SelectFiles(b Batch, files []LocalFile) (Batch, error) {
	if err := b.check(ActionSelect); err != nil {
		return b, err
	}

	inputs := []Input{}
	var total int64
	if b.Method == MethodDevice {
		inputs = append(inputs, b.Inputs...)
		for _, in := range b.Inputs {
			total += in.SizeBytes
		}
	}
	dropped := 0
	for _, f := range files {
		if !storage.IsSupportedMimeType(f.MimeType) {
			dropped++
			continue
		}
		if len(inputs) >= o.maxItems {
			return b, &media.ValidationError{Field: "files", Message: fmt.Sprintf("a batch holds at most %d items", o.maxItems)}
		}
		total += int64(len(f.Data))
		if total > o.maxBytes {
			return b, &media.ValidationError{Field: "files", Message: fmt.Sprintf("a batch holds at most %d bytes", o.maxBytes)}
		}
		inputs = append(inputs, Input{
			Name:      f.Name,
			MimeType:  f.MimeType,
			SizeBytes: int64(len(f.Data)),
			Data:      f.Data,
		})
	}
	if dropped > 0 {
		log.Debug().Str("batchId", b.ID).Int("dropped", dropped).Msg("Dropped unsupported files from selection")
	}

	b.Method = MethodDevice
	b.Inputs = inputs
	b.Err = ""
	return b, nil
}

// SelectURLs replaces the selection with one URL per non-blank line of text.
func (o *Orchestrator) SelectURLs(b Batch, text string) (Batch, error) {
	if err := b.check(ActionSelect); err != nil {
		return b, err
	}

	inputs := []Input{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(inputs) >= o.maxItems {
			return b, &media.ValidationError{Field: "urls", Message: fmt.Sprintf("a batch holds at most %d items", o.maxItems)}
		}
		inputs = append(inputs, Input{URL: line})
	}

	b.Method = MethodURL
	b.Inputs = inputs
	b.Err = ""
	return b, nil
}

// Transfer moves every input into object storage, one at a time and in selection order. The
// first failure aborts the rest: the returned batch is back in selecting with no pending uploads
// and its inputs intact. Objects stored before the failure are left in storage. After a
// successful transfer the inputs no longer carry file bytes.
func (o *Orchestrator) Transfer(ctx context.Context, b Batch) (Batch, error) {
	if err := b.check(ActionTransfer); err != nil {
		return b, err
	}
	if len(b.Inputs) == 0 {
		return b, ErrEmptyBatch
	}

	b.State = StateTransferring
	started := o.now()
	pending := make([]PendingUpload, 0, len(b.Inputs))

	for i, in := range b.Inputs {
		upload, err := o.transferOne(ctx, i, in, started)
		if err != nil {
			metrics.BatchesTotal.WithLabelValues("transfer_failed").Inc()
			log.Warn().
				Err(err).
				Str("batchId", b.ID).
				Int("index", i).
				Int("transferred", len(pending)).
				Int("total", len(b.Inputs)).
				Msg("Batch transfer aborted")

			b.State = StateSelecting
			b.Pending = []PendingUpload{}
			b.Cursor = 0
			b.Committed = 0
			b.Err = err.Error()
			return b, fmt.Errorf("failed to transfer %s: %w", in.label(), err)
		}
		pending = append(pending, *upload)
	}

	log.Info().Str("batchId", b.ID).Int("count", len(pending)).Str("method", string(b.Method)).Msg("Batch transferred")

	b.State = StateAnnotating
	b.Inputs = withoutData(b.Inputs)
	b.Pending = pending
	b.Cursor = 0
	b.Committed = 0
	b.Err = ""
	return b, nil
}

func (o *Orchestrator) transferOne(ctx context.Context, index int, in Input, started time.Time) (*PendingUpload, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	if in.IsRemote() {
		name := fmt.Sprintf("remote-%d-%d", started.UnixMilli(), index)
		remote, err := o.uploader.UploadFromURL(ctx, in.URL, name)
		if err != nil {
			return nil, err
		}
		fileType, err := storage.ClassifyMimeType(remote.MimeType)
		if err != nil {
			return nil, err
		}
		ext := storage.ExtensionForMimeType(remote.MimeType)
		if ext == "" {
			ext = remoteFallbackExt
		}
		size := remote.Size
		return &PendingUpload{
			StoragePath:   remote.Path,
			PublicURL:     remote.PublicURL,
			FileName:      name + ext,
			FileType:      fileType,
			MimeType:      remote.MimeType,
			FileSizeBytes: &size,
		}, nil
	}

	fileType, err := storage.ClassifyMimeType(in.MimeType)
	if err != nil {
		return nil, err
	}
	obj, err := o.uploader.UploadBlob(ctx, storage.Blob{Data: in.Data, MimeType: in.MimeType}, in.Name)
	if err != nil {
		return nil, err
	}
	size := int64(len(in.Data))
	return &PendingUpload{
		StoragePath:   obj.Path,
		PublicURL:     obj.PublicURL,
		FileName:      in.Name,
		FileType:      fileType,
		MimeType:      in.MimeType,
		FileSizeBytes: &size,
	}, nil
}

func withoutData(inputs []Input) []Input {
	released := make([]Input, len(inputs))
	for i, in := range inputs {
		in.Data = nil
		released[i] = in
	}
	return released
}

// Annotate records metadata for the pending upload under the cursor and moves to the next one.
func (o *Orchestrator) Annotate(b Batch, metadata media.Metadata) (Batch, error) {
	if err := b.check(ActionAnnotate); err != nil {
		return b, err
	}
	if b.Cursor >= len(b.Pending) {
		return b, ErrAnnotationComplete
	}
	if err := metadata.Validate(); err != nil {
		return b, err
	}
	return b.withMetadata(metadata.Normalize()), nil
}

// Skip is Annotate with empty metadata.
func (o *Orchestrator) Skip(b Batch) (Batch, error) {
	if err := b.check(ActionSkip); err != nil {
		return b, err
	}
	if b.Cursor >= len(b.Pending) {
		return b, ErrAnnotationComplete
	}
	return b.withMetadata(media.Metadata{}), nil
}

// Commit creates one record per pending upload, in transfer order, starting at b.Committed. It is
// not atomic: on failure the records already created stay, the batch stays in annotating with
// Committed pointing at the first upload that was not persisted, and nothing is retried.
func (o *Orchestrator) Commit(ctx context.Context, b Batch) (Batch, error) {
	if err := b.check(ActionCommit); err != nil {
		return b, err
	}
	if !b.ReadyToCommit() {
		return b, ErrAnnotationIncomplete
	}

	for i := b.Committed; i < len(b.Pending); i++ {
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		_, err := o.creator.CreateMediaItem(callCtx, b.Pending[i].newItem())
		cancel()
		if err != nil {
			metrics.CommitsTotal.WithLabelValues("error").Inc()
			log.Error().
				Err(err).
				Str("batchId", b.ID).
				Int("index", i).
				Int("committed", b.Committed).
				Int("total", len(b.Pending)).
				Msg("Batch commit halted")

			b.Err = err.Error()
			if b.Committed > 0 {
				o.notify("partial_commit")
			}
			return b, fmt.Errorf("failed to commit %s: %w", b.Pending[i].FileName, err)
		}
		metrics.CommitsTotal.WithLabelValues("ok").Inc()
		b.Committed = i + 1
	}

	metrics.BatchesTotal.WithLabelValues("committed").Inc()
	log.Info().Str("batchId", b.ID).Int("count", b.Committed).Msg("Batch committed")

	b.State = StateCommitted
	b.Err = ""
	o.notify("ingested")
	return b, nil
}

// Reset discards the batch. Objects already transferred are not removed from storage.
func (o *Orchestrator) Reset(b Batch) Batch {
	if len(b.Pending) > b.Committed && b.State != StateCommitted {
		metrics.BatchesTotal.WithLabelValues("reset").Inc()
		log.Info().
			Str("batchId", b.ID).
			Int("abandoned", len(b.Pending)-b.Committed).
			Msg("Batch reset with uncommitted uploads")
	}
	return NewBatch(b.ID)
}

func (o *Orchestrator) notify(reason string) {
	if o.notifier != nil {
		o.notifier.MediaChanged(reason, "")
	}
}
