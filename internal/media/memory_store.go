package media

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryItem struct {
	item Item
	seq  int64
}

type memoryComment struct {
	comment Comment
	seq     int64
}

// MemoryStore keeps records in process. It enforces the same constraints as the postgres schema:
// comment foreign keys and cascade delete.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]*memoryItem
	comments map[string]*memoryComment
	seq      int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:    make(map[string]*memoryItem),
		comments: make(map[string]*memoryComment),
		now:      time.Now,
	}
}

func (s *MemoryStore) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *MemoryStore) InsertItem(ctx context.Context, newItem NewItem) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	item := Item{
		ID:            uuid.NewString(),
		StoragePath:   newItem.StoragePath,
		PublicURL:     newItem.PublicURL,
		FileName:      newItem.FileName,
		FileType:      newItem.FileType,
		MimeType:      newItem.MimeType,
		FileSizeBytes: copyInt64(newItem.FileSizeBytes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	item.applyMetadata(copyMetadata(newItem.Metadata))

	s.items[item.ID] = &memoryItem{item: item, seq: s.nextSeq()}
	return cloneItem(&item), nil
}

func (s *MemoryStore) GetItem(ctx context.Context, id string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("media item %s: %w", id, ErrNotFound)
	}
	return cloneItem(&stored.item), nil
}

func (s *MemoryStore) ListItems(ctx context.Context) ([]*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := make([]*memoryItem, 0, len(s.items))
	for _, item := range s.items {
		stored = append(stored, item)
	}
	sort.Slice(stored, func(i, j int) bool {
		a, b := stored[i], stored[j]
		if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
			return a.item.CreatedAt.After(b.item.CreatedAt)
		}
		return a.seq > b.seq
	})

	items := make([]*Item, len(stored))
	for i, item := range stored {
		items[i] = cloneItem(&item.item)
	}
	return items, nil
}

func (s *MemoryStore) UpdateItemMetadata(ctx context.Context, id string, metadata Metadata) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("media item %s: %w", id, ErrNotFound)
	}
	stored.item.applyMetadata(copyMetadata(metadata))
	stored.item.UpdatedAt = s.now().UTC()
	return cloneItem(&stored.item), nil
}

func (s *MemoryStore) DeleteItem(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("media item %s: %w", id, ErrNotFound)
	}
	delete(s.items, id)
	for commentID, c := range s.comments {
		if c.comment.MediaID == id {
			delete(s.comments, commentID)
		}
	}
	return nil
}

func (s *MemoryStore) InsertComment(ctx context.Context, mediaID, text string) (*Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[mediaID]; !ok {
		return nil, fmt.Errorf("media item %s: %w", mediaID, ErrNotFound)
	}

	now := s.now().UTC()
	comment := Comment{
		ID:          uuid.NewString(),
		MediaID:     mediaID,
		CommentText: text,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.comments[comment.ID] = &memoryComment{comment: comment, seq: s.nextSeq()}
	copied := comment
	return &copied, nil
}

func (s *MemoryStore) ListComments(ctx context.Context) ([]*Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := make([]*memoryComment, 0, len(s.comments))
	for _, c := range s.comments {
		stored = append(stored, c)
	}
	sort.Slice(stored, func(i, j int) bool {
		a, b := stored[i], stored[j]
		if !a.comment.CreatedAt.Equal(b.comment.CreatedAt) {
			return a.comment.CreatedAt.Before(b.comment.CreatedAt)
		}
		return a.seq < b.seq
	})

	comments := make([]*Comment, len(stored))
	for i, c := range stored {
		copied := c.comment
		comments[i] = &copied
	}
	return comments, nil
}

func (s *MemoryStore) DeleteComment(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.comments[id]; !ok {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	delete(s.comments, id)
	return nil
}

func (s *MemoryStore) StoragePathExists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, stored := range s.items {
		if stored.item.StoragePath == path {
			return true, nil
		}
	}
	return false, nil
}

func cloneItem(item *Item) *Item {
	copied := *item
	copied.FileSizeBytes = copyInt64(item.FileSizeBytes)
	copied.applyMetadata(copyMetadata(Metadata{
		Description: item.Description,
		Location:    item.Location,
		TakenDate:   item.TakenDate,
	}))
	copied.Comments = nil
	return &copied
}

func copyInt64(value *int64) *int64 {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func copyMetadata(m Metadata) Metadata {
	return Metadata{
		Description: copyString(m.Description),
		Location:    copyString(m.Location),
		TakenDate:   copyString(m.TakenDate),
	}
}
