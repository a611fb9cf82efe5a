// Package ingest drives one ingestion batch from selection through transfer and annotation to
// commit. A Batch is a plain value: every transition takes one and returns the next, so stages can
// be exercised in isolation.
package ingest

import (
	"errors"
	"fmt"
	"slices"

	"github.com/prappser/memories_server/internal/media"
	"github.com/prappser/memories_server/internal/storage"
)

type State string

const (
	StateSelecting    State = "selecting"
	StateTransferring State = "transferring"
	StateAnnotating   State = "annotating"
	StateCommitted    State = "committed"
)

type Method string

const (
	MethodDevice Method = "device"
	MethodURL    Method = "url"
)

type Action string

const (
	ActionSelect   Action = "select"
	ActionTransfer Action = "transfer"
	ActionAnnotate Action = "annotate"
	ActionSkip     Action = "skip"
	ActionCommit   Action = "commit"
)

// allowedActions is the transition matrix. Reset is accepted in every state and is not listed.
// Transferring only exists while a transfer is running and accepts nothing.
var allowedActions = map[State]map[Action]bool{
	StateSelecting:    {ActionSelect: true, ActionTransfer: true},
	StateTransferring: {},
	StateAnnotating:   {ActionAnnotate: true, ActionSkip: true, ActionCommit: true},
	StateCommitted:    {},
}

var (
	ErrEmptyBatch           = errors.New("batch has no inputs")
	ErrAnnotationComplete   = errors.New("every pending upload is already annotated")
	ErrAnnotationIncomplete = errors.New("pending uploads are still waiting for annotation")
)

type TransitionError struct {
	From   State
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while batch is %s", e.Action, e.From)
}

// LocalFile is a blob chosen on the device.
type LocalFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// Input is one selected item: a local file or a remote URL.
type Input struct {
	Name      string `json:"name,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
	URL       string `json:"url,omitempty"`
	Data      []byte `json:"-"`
}

func (in Input) IsRemote() bool {
	return in.URL != ""
}

func (in Input) label() string {
	if in.IsRemote() {
		return in.URL
	}
	return in.Name
}

// PendingUpload is a transferred object waiting for its record.
type PendingUpload struct {
	StoragePath   string           `json:"storagePath"`
	PublicURL     string           `json:"publicUrl"`
	FileName      string           `json:"fileName"`
	FileType      storage.FileType `json:"fileType"`
	MimeType      string           `json:"mimeType"`
	FileSizeBytes *int64           `json:"fileSizeBytes"`
	Metadata      media.Metadata   `json:"metadata"`
	Annotated     bool             `json:"annotated"`
}

func (p PendingUpload) newItem() media.NewItem {
	return media.NewItem{
		StoragePath:   p.StoragePath,
		PublicURL:     p.PublicURL,
		FileName:      p.FileName,
		FileType:      p.FileType,
		MimeType:      p.MimeType,
		FileSizeBytes: p.FileSizeBytes,
		Metadata:      p.Metadata,
	}
}

type Batch struct {
	ID      string          `json:"id"`
	State   State           `json:"state"`
	Method  Method          `json:"method,omitempty"`
	Inputs  []Input         `json:"inputs"`
	Pending []PendingUpload `json:"pending"`
	// Cursor is the index of the pending upload being annotated.
	Cursor int `json:"cursor"`
	// Committed counts pending uploads already persisted; a retried commit starts here.
	Committed int    `json:"committed"`
	Err       string `json:"error,omitempty"`
}

func NewBatch(id string) Batch {
	return Batch{
		ID:      id,
		State:   StateSelecting,
		Inputs:  []Input{},
		Pending: []PendingUpload{},
	}
}

func (b Batch) check(action Action) error {
	if !allowedActions[b.State][action] {
		return &TransitionError{From: b.State, Action: action}
	}
	return nil
}

// Current returns the pending upload under the cursor.
func (b Batch) Current() (PendingUpload, bool) {
	if b.State != StateAnnotating || b.Cursor >= len(b.Pending) {
		return PendingUpload{}, false
	}
	return b.Pending[b.Cursor], true
}

// ReadyToCommit reports whether every pending upload has been annotated or skipped.
func (b Batch) ReadyToCommit() bool {
	return b.State == StateAnnotating && len(b.Pending) > 0 && b.Cursor >= len(b.Pending)
}

// withMetadata records metadata at the cursor on a copy of Pending and advances.
func (b Batch) withMetadata(metadata media.Metadata) Batch {
	b.Pending = slices.Clone(b.Pending)
	b.Pending[b.Cursor].Metadata = metadata
	b.Pending[b.Cursor].Annotated = true
	b.Cursor++
	return b
}
