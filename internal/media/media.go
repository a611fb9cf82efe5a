package media

import (
	"strings"
	"time"

	"github.com/prappser/memories_server/internal/storage"
)

const takenDateLayout = "2006-01-02"

// Item is one persisted media asset. StoragePath, PublicURL and FileType are written once at
// insert time and never updated.
type Item struct {
	ID            string           `json:"id"`
	StoragePath   string           `json:"storagePath"`
	PublicURL     string           `json:"publicUrl"`
	FileName      string           `json:"fileName"`
	FileType      storage.FileType `json:"fileType"`
	MimeType      string           `json:"mimeType"`
	FileSizeBytes *int64           `json:"fileSizeBytes"`
	Description   *string          `json:"description"`
	Location      *string          `json:"location"`
	TakenDate     *string          `json:"takenDate"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	Comments      []Comment        `json:"comments"`
}

type Comment struct {
	ID          string    `json:"id"`
	MediaID     string    `json:"mediaId"`
	CommentText string    `json:"comment"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Metadata is the user-supplied annotation of an item. A nil field is stored as NULL.
type Metadata struct {
	Description *string `json:"description"`
	Location    *string `json:"location"`
	TakenDate   *string `json:"takenDate"`
}

// NewItem describes a record to insert. Server-assigned fields are filled by the store.
type NewItem struct {
	StoragePath   string
	PublicURL     string
	FileName      string
	FileType      storage.FileType
	MimeType      string
	FileSizeBytes *int64
	Metadata      Metadata
}

// Normalize trims every field and turns blanks into nil, so an empty form submission and a skip
// persist the same thing.
func (m Metadata) Normalize() Metadata {
	return Metadata{
		Description: nonBlank(m.Description),
		Location:    nonBlank(m.Location),
		TakenDate:   nonBlank(m.TakenDate),
	}
}

func (m Metadata) IsEmpty() bool {
	n := m.Normalize()
	return n.Description == nil && n.Location == nil && n.TakenDate == nil
}

func (m Metadata) Validate() error {
	n := m.Normalize()
	if n.TakenDate != nil {
		if _, err := time.Parse(takenDateLayout, *n.TakenDate); err != nil {
			return &ValidationError{Field: "takenDate", Message: "must be a date in YYYY-MM-DD format"}
		}
	}
	return nil
}

func nonBlank(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (item *Item) applyMetadata(metadata Metadata) {
	item.Description = metadata.Description
	item.Location = metadata.Location
	item.TakenDate = metadata.TakenDate
}
