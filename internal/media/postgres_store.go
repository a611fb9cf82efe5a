package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const itemColumns = `id, storage_path, public_url, file_name, file_type, mime_type, file_size,
			  description, location, taken_date, created_at, updated_at`

const commentColumns = `id, media_id, comment, created_at, updated_at`

const (
	pqInvalidTextRepresentation = "22P02"
	pqForeignKeyViolation       = "23503"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	item := &Item{}
	var fileSize sql.NullInt64
	var description, location sql.NullString
	var takenDate sql.NullTime

	err := row.Scan(
		&item.ID,
		&item.StoragePath,
		&item.PublicURL,
		&item.FileName,
		&item.FileType,
		&item.MimeType,
		&fileSize,
		&description,
		&location,
		&takenDate,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if fileSize.Valid {
		item.FileSizeBytes = &fileSize.Int64
	}
	if description.Valid {
		item.Description = &description.String
	}
	if location.Valid {
		item.Location = &location.String
	}
	if takenDate.Valid {
		formatted := takenDate.Time.Format(takenDateLayout)
		item.TakenDate = &formatted
	}
	return item, nil
}

func scanComment(row rowScanner) (*Comment, error) {
	c := &Comment{}
	if err := row.Scan(&c.ID, &c.MediaID, &c.CommentText, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

// notFound maps missing rows and malformed uuids to ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqInvalidTextRepresentation {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return err
}

func (s *PostgresStore) InsertItem(ctx context.Context, newItem NewItem) (*Item, error) {
	query := `INSERT INTO media_items (storage_path, public_url, file_name, file_type, mime_type, file_size, description, location, taken_date)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			  RETURNING ` + itemColumns

	row := s.db.QueryRowContext(ctx, query,
		newItem.StoragePath,
		newItem.PublicURL,
		newItem.FileName,
		string(newItem.FileType),
		newItem.MimeType,
		newItem.FileSizeBytes,
		newItem.Metadata.Description,
		newItem.Metadata.Location,
		newItem.Metadata.TakenDate,
	)
	item, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert media item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM media_items WHERE id = $1`

	item, err := scanItem(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "media item", id)
	}
	return item, nil
}

func (s *PostgresStore) ListItems(ctx context.Context) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM media_items ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func (s *PostgresStore) UpdateItemMetadata(ctx context.Context, id string, metadata Metadata) (*Item, error) {
	query := `UPDATE media_items
			  SET description = $1, location = $2, taken_date = $3, updated_at = clock_timestamp()
			  WHERE id = $4
			  RETURNING ` + itemColumns

	item, err := scanItem(s.db.QueryRowContext(ctx, query, metadata.Description, metadata.Location, metadata.TakenDate, id))
	if err != nil {
		return nil, notFound(err, "media item", id)
	}
	return item, nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, id string) error {
	return s.execWithRowCheck(ctx, "media item", id, `DELETE FROM media_items WHERE id = $1`, id)
}

func (s *PostgresStore) InsertComment(ctx context.Context, mediaID, text string) (*Comment, error) {
	query := `INSERT INTO media_comments (media_id, comment)
			  VALUES ($1, $2)
			  RETURNING ` + commentColumns

	c, err := scanComment(s.db.QueryRowContext(ctx, query, mediaID, text))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return nil, fmt.Errorf("media item %s: %w", mediaID, ErrNotFound)
		}
		return nil, notFound(err, "media item", mediaID)
	}
	return c, nil
}

func (s *PostgresStore) ListComments(ctx context.Context) ([]*Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM media_comments ORDER BY created_at ASC, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}

	return comments, rows.Err()
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	return s.execWithRowCheck(ctx, "comment", id, `DELETE FROM media_comments WHERE id = $1`, id)
}

func (s *PostgresStore) StoragePathExists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM media_items WHERE storage_path = $1)`, path).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) execWithRowCheck(ctx context.Context, what, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return notFound(err, what, id)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}

	return nil
}
