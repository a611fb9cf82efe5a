package media

import (
	"context"
	"strings"
	"time"

	"github.com/prappser/memories_server/internal/metrics"
	"github.com/prappser/memories_server/internal/storage"
	"github.com/rs/zerolog/log"
)

const defaultCallTimeout = 30 * time.Second

// BlobRemover deletes stored objects. storage.Backend satisfies it.
type BlobRemover interface {
	Delete(ctx context.Context, key string) error
}

// Repository is the only reader and writer of persisted items and comments. Every store call runs
// under its own timeout and every store failure is returned as a *PersistenceError.
type Repository struct {
	store       Store
	blobs       BlobRemover
	callTimeout time.Duration
}

func NewRepository(store Store, blobs BlobRemover, callTimeout time.Duration) *Repository {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Repository{
		store:       store,
		blobs:       blobs,
		callTimeout: callTimeout,
	}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.callTimeout)
}

// CreateMediaItem inserts exactly one record. There is no idempotency key: calling it twice with
// the same arguments creates two records, so retries are left to the caller.
func (r *Repository) CreateMediaItem(ctx context.Context, newItem NewItem) (*Item, error) {
	if strings.TrimSpace(newItem.StoragePath) == "" {
		return nil, &ValidationError{Field: "storagePath", Message: "is required"}
	}
	if newItem.FileType != storage.FileTypeImage && newItem.FileType != storage.FileTypeVideo {
		return nil, &ValidationError{Field: "fileType", Message: "must be image or video"}
	}
	if err := newItem.Metadata.Validate(); err != nil {
		return nil, err
	}
	newItem.Metadata = newItem.Metadata.Normalize()

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	item, err := r.store.InsertItem(ctx, newItem)
	if err != nil {
		log.Error().Err(err).Str("storagePath", newItem.StoragePath).Msg("Failed to create media item")
		return nil, persistenceError("create media item", err)
	}

	log.Info().
		Str("mediaId", item.ID).
		Str("storagePath", item.StoragePath).
		Str("fileType", string(item.FileType)).
		Msg("Media item created")
	return item, nil
}

func (r *Repository) GetMediaItem(ctx context.Context, id string) (*Item, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	item, err := r.store.GetItem(ctx, id)
	if err != nil {
		return nil, persistenceError("get media item", err)
	}
	return item, nil
}

// GetAllMedia returns items newest first, each with its comments oldest first. Items and comments
// are read with two separate queries and merged here. A failed comment query does not fail the
// listing: items are returned with empty comment lists.
func (r *Repository) GetAllMedia(ctx context.Context) ([]*Item, error) {
	itemsCtx, cancel := r.withTimeout(ctx)
	items, err := r.store.ListItems(itemsCtx)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list media items")
		return nil, persistenceError("list media items", err)
	}

	commentsCtx, cancel := r.withTimeout(ctx)
	comments, err := r.store.ListComments(commentsCtx)
	cancel()
	if err != nil {
		metrics.CommentEnrichmentFailuresTotal.Inc()
		log.Warn().Err(err).Int("items", len(items)).Msg("Failed to list comments, returning media without comments")
		comments = nil
	}

	return mergeComments(items, comments), nil
}

// mergeComments attaches comments to their items by media id, keeping the order of both inputs.
// Comments whose item is not in items are dropped. Every item gets a non-nil slice.
func mergeComments(items []*Item, comments []*Comment) []*Item {
	byMediaID := make(map[string][]Comment, len(items))
	for _, c := range comments {
		byMediaID[c.MediaID] = append(byMediaID[c.MediaID], *c)
	}

	for _, item := range items {
		item.Comments = byMediaID[item.ID]
		if item.Comments == nil {
			item.Comments = []Comment{}
		}
	}
	if items == nil {
		items = []*Item{}
	}
	return items
}

// UpdateMediaItem replaces the item's metadata with the given snapshot. Nil fields clear the stored
// value.
func (r *Repository) UpdateMediaItem(ctx context.Context, id string, metadata Metadata) (*Item, error) {
	if err := metadata.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	item, err := r.store.UpdateItemMetadata(ctx, id, metadata.Normalize())
	if err != nil {
		log.Error().Err(err).Str("mediaId", id).Msg("Failed to update media item")
		return nil, persistenceError("update media item", err)
	}
	return item, nil
}

// DeleteMediaItem removes the blob first and the record second. A failed blob removal is logged
// and the record is deleted anyway, since an orphaned blob is invisible while an orphaned record
// would keep showing up in listings. Comments go with the record.
func (r *Repository) DeleteMediaItem(ctx context.Context, id, storagePath string) error {
	if storagePath != "" {
		blobCtx, cancel := r.withTimeout(ctx)
		err := r.blobs.Delete(blobCtx, storagePath)
		cancel()
		if err != nil {
			metrics.StorageDeleteFailuresTotal.Inc()
			log.Warn().Err(err).Str("mediaId", id).Str("path", storagePath).Msg("Failed to delete storage file")
		}
	} else {
		log.Warn().Str("mediaId", id).Msg("Deleting media item without storage path")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.store.DeleteItem(ctx, id); err != nil {
		log.Error().Err(err).Str("mediaId", id).Msg("Failed to delete media item")
		return persistenceError("delete media item", err)
	}

	log.Info().Str("mediaId", id).Str("path", storagePath).Msg("Media item deleted")
	return nil
}

func (r *Repository) AddComment(ctx context.Context, mediaID, text string) (*Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ValidationError{Field: "comment", Message: "must not be empty"}
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	c, err := r.store.InsertComment(ctx, mediaID, text)
	if err != nil {
		return nil, persistenceError("add comment", err)
	}
	return c, nil
}

func (r *Repository) DeleteComment(ctx context.Context, commentID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.store.DeleteComment(ctx, commentID); err != nil {
		return persistenceError("delete comment", err)
	}
	return nil
}

// StoragePathExists lets the orphan sweep ask whether a blob is still referenced.
func (r *Repository) StoragePathExists(ctx context.Context, path string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	exists, err := r.store.StoragePathExists(ctx, path)
	if err != nil {
		return false, persistenceError("check storage path", err)
	}
	return exists, nil
}
