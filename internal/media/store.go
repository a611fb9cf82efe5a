package media

import "context"

// Store is the record store boundary: two tables, media items and their comments, with comments
// removed by cascade when their item is deleted. Implementations assign ids and timestamps.
type Store interface {
	InsertItem(ctx context.Context, item NewItem) (*Item, error)
	GetItem(ctx context.Context, id string) (*Item, error)
	// ListItems returns items newest first.
	ListItems(ctx context.Context) ([]*Item, error)
	UpdateItemMetadata(ctx context.Context, id string, metadata Metadata) (*Item, error)
	DeleteItem(ctx context.Context, id string) error

	InsertComment(ctx context.Context, mediaID, text string) (*Comment, error)
	// ListComments returns every comment oldest first.
	ListComments(ctx context.Context) ([]*Comment, error)
	DeleteComment(ctx context.Context, id string) error

	StoragePathExists(ctx context.Context, path string) (bool, error)
}
