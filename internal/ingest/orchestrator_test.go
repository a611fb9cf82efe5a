package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prappser/memories_server/internal/media"
	"github.com/prappser/memories_server/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	reasons []string
}

func (n *recordingNotifier) MediaChanged(reason, mediaID string) {
	n.reasons = append(n.reasons, reason)
}

// flakyCreator fails the given call numbers (1-based) and delegates the rest.
type flakyCreator struct {
	next    MediaCreator
	failOn  map[int]bool
	calls   int
	created []media.NewItem
}

func (c *flakyCreator) CreateMediaItem(ctx context.Context, newItem media.NewItem) (*media.Item, error) {
	c.calls++
	if c.failOn[c.calls] {
		return nil, &media.PersistenceError{Op: "create media item", Err: errors.New("connection reset")}
	}
	c.created = append(c.created, newItem)
	return c.next.CreateMediaItem(ctx, newItem)
}

// failingUploader fails the n-th blob upload (1-based).
type failingUploader struct {
	Uploader
	failAt int
	calls  int
}

func (u *failingUploader) UploadBlob(ctx context.Context, blob storage.Blob, name string) (*storage.Object, error) {
	u.calls++
	if u.calls == u.failAt {
		return nil, &storage.TransferError{Key: name, Err: errors.New("disk full")}
	}
	return u.Uploader.UploadBlob(ctx, blob, name)
}

type fixture struct {
	orchestrator *Orchestrator
	repository   *media.Repository
	local        *storage.LocalStorage
	notifier     *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	local, err := storage.NewLocalStorage(&storage.Config{LocalPath: t.TempDir(), ExternalURL: "http://media.test"})
	require.NoError(t, err)
	adapter := storage.NewAdapter(local, &storage.Config{KeyPrefix: "media/", MaxFileSize: 4 * 1024 * 1024, AllowPrivateFetch: true})
	repository := media.NewRepository(media.NewMemoryStore(), local, time.Second)
	notifier := &recordingNotifier{}

	return &fixture{
		orchestrator: NewOrchestrator(adapter, repository, notifier, Config{CallTimeout: 5 * time.Second}),
		repository:   repository,
		local:        local,
		notifier:     notifier,
	}
}

func (f *fixture) storedKeys(t *testing.T) []string {
	t.Helper()
	keys, err := f.local.List(context.Background(), "")
	require.NoError(t, err)
	return keys
}

func jpeg(name string, size int) LocalFile {
	return LocalFile{Name: name, MimeType: "image/jpeg", Data: make([]byte, size)}
}

func TestOrchestrator_DeviceScenario_ShouldCommitSkippedJPEGWithoutDescription(t *testing.T) {
	// given
	f := newFixture(t)
	ctx := context.Background()
	batch := NewBatch("batch-1")

	// when
	batch, err := f.orchestrator.SelectFiles(batch, []LocalFile{jpeg("beach.jpg", 2*1024*1024)})
	require.NoError(t, err)
	batch, err = f.orchestrator.Transfer(ctx, batch)
	require.NoError(t, err)

	// then
	require.Equal(t, StateAnnotating, batch.State)
	require.Len(t, batch.Pending, 1)
	pending := batch.Pending[0]
	assert.Equal(t, storage.FileTypeImage, pending.FileType)
	require.NotNil(t, pending.FileSizeBytes)
	assert.Equal(t, int64(2097152), *pending.FileSizeBytes)
	assert.Equal(t, "beach.jpg", pending.FileName)

	batch, err = f.orchestrator.Skip(batch)
	require.NoError(t, err)
	assert.True(t, batch.ReadyToCommit())
	batch, err = f.orchestrator.Commit(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, batch.State)
	assert.Equal(t, []string{"ingested"}, f.notifier.reasons)

	items, err := f.repository.GetAllMedia(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Description)
	assert.Equal(t, pending.StoragePath, items[0].StoragePath)
	assert.Equal(t, int64(2097152), *items[0].FileSizeBytes)
}

func TestOrchestrator_URLScenario_ShouldReturnToSelectingWhenSecondURLFails(t *testing.T) {
	// given
	f := newFixture(t)
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("/one.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg bytes"))
	})
	mux.HandleFunc("/missing.jpg", http.NotFound)
	server := httptest.NewServer(mux)
	defer server.Close()

	batch, err := f.orchestrator.SelectURLs(NewBatch("batch-2"), server.URL+"/one.jpg\n"+server.URL+"/missing.jpg\n")
	require.NoError(t, err)
	require.Len(t, batch.Inputs, 2)

	// when
	batch, err = f.orchestrator.Transfer(ctx, batch)

	// then
	var fetchErr *storage.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Equal(t, StateSelecting, batch.State)
	assert.Empty(t, batch.Pending)
	assert.Len(t, batch.Inputs, 2, "inputs are kept for a retry")
	assert.NotEmpty(t, batch.Err)

	items, err := f.repository.GetAllMedia(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, f.notifier.reasons)
}

func TestOrchestrator_Transfer_ShouldKeepSelectionOrder(t *testing.T) {
	// given
	f := newFixture(t)
	files := make([]LocalFile, 0, 6)
	for i := 0; i < 6; i++ {
		files = append(files, jpeg(fmt.Sprintf("photo-%d.jpg", i), 16+i))
	}
	batch, err := f.orchestrator.SelectFiles(NewBatch("batch-3"), files)
	require.NoError(t, err)

	// when
	batch, err = f.orchestrator.Transfer(context.Background(), batch)

	// then
	require.NoError(t, err)
	require.Len(t, batch.Pending, len(files))
	for i, p := range batch.Pending {
		assert.Equal(t, files[i].Name, p.FileName)
		assert.Equal(t, int64(len(files[i].Data)), *p.FileSizeBytes)
	}
}

func TestOrchestrator_Transfer_ShouldYieldNoPendingUploadsWhenAnyTransferFails(t *testing.T) {
	for failAt := 1; failAt <= 3; failAt++ {
		t.Run(fmt.Sprintf("fail at %d", failAt), func(t *testing.T) {
			// given
			f := newFixture(t)
			f.orchestrator.uploader = &failingUploader{Uploader: f.orchestrator.uploader, failAt: failAt}
			batch, err := f.orchestrator.SelectFiles(NewBatch("batch"), []LocalFile{jpeg("a.jpg", 8), jpeg("b.jpg", 8), jpeg("c.jpg", 8)})
			require.NoError(t, err)

			// when
			batch, err = f.orchestrator.Transfer(context.Background(), batch)

			// then
			var transferErr *storage.TransferError
			assert.ErrorAs(t, err, &transferErr)
			assert.Equal(t, StateSelecting, batch.State)
			assert.Empty(t, batch.Pending)
			_, err = f.orchestrator.Annotate(batch, media.Metadata{})
			var transitionErr *TransitionError
			assert.ErrorAs(t, err, &transitionErr)
		})
	}
}

func TestOrchestrator_SelectFiles_ShouldDropUnsupportedFiles(t *testing.T) {
	// given
	f := newFixture(t)
	files := []LocalFile{
		jpeg("a.jpg", 4),
		{Name: "notes.pdf", MimeType: "application/pdf", Data: []byte("%PDF")},
		{Name: "clip.mp4", MimeType: "video/mp4", Data: []byte("mp4")},
		{Name: "readme.txt", MimeType: "text/plain", Data: []byte("hi")},
	}

	// when
	batch, err := f.orchestrator.SelectFiles(NewBatch("batch"), files)

	// then
	require.NoError(t, err)
	require.Len(t, batch.Inputs, 2)
	assert.Equal(t, "a.jpg", batch.Inputs[0].Name)
	assert.Equal(t, "clip.mp4", batch.Inputs[1].Name)
	assert.Equal(t, MethodDevice, batch.Method)

	batch, err = f.orchestrator.Transfer(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, storage.FileTypeImage, batch.Pending[0].FileType)
	assert.Equal(t, storage.FileTypeVideo, batch.Pending[1].FileType)
}

func TestOrchestrator_SelectFiles_ShouldAccumulateDeviceSelections(t *testing.T) {
	f := newFixture(t)

	batch, err := f.orchestrator.SelectURLs(NewBatch("batch"), "http://example.test/a.jpg")
	require.NoError(t, err)
	batch, err = f.orchestrator.SelectFiles(batch, []LocalFile{jpeg("a.jpg", 4)})
	require.NoError(t, err)
	batch, err = f.orchestrator.SelectFiles(batch, []LocalFile{jpeg("b.jpg", 4)})
	require.NoError(t, err)

	require.Len(t, batch.Inputs, 2)
	assert.False(t, batch.Inputs[0].IsRemote())
	assert.Equal(t, "b.jpg", batch.Inputs[1].Name)
}

func TestOrchestrator_SelectURLs_ShouldIgnoreBlankLines(t *testing.T) {
	f := newFixture(t)

	batch, err := f.orchestrator.SelectURLs(NewBatch("batch"), "\n  https://a.test/1.jpg  \r\n\n\t\nhttps://a.test/2.jpg")

	require.NoError(t, err)
	require.Len(t, batch.Inputs, 2)
	assert.Equal(t, "https://a.test/1.jpg", batch.Inputs[0].URL)
	assert.Equal(t, "https://a.test/2.jpg", batch.Inputs[1].URL)
	assert.Equal(t, MethodURL, batch.Method)
}

func TestOrchestrator_Transfer_ShouldNameRemoteImports(t *testing.T) {
	// given
	f := newFixture(t)
	f.orchestrator.now = func() time.Time { return time.UnixMilli(1700000000000) }
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png bytes"))
	}))
	defer server.Close()
	batch, err := f.orchestrator.SelectURLs(NewBatch("batch"), server.URL+"/a\n"+server.URL+"/b")
	require.NoError(t, err)

	// when
	batch, err = f.orchestrator.Transfer(context.Background(), batch)

	// then
	require.NoError(t, err)
	require.Len(t, batch.Pending, 2)
	assert.Equal(t, "remote-1700000000000-0.png", batch.Pending[0].FileName)
	assert.Equal(t, "remote-1700000000000-1.png", batch.Pending[1].FileName)
	assert.Equal(t, "image/png", batch.Pending[0].MimeType)
	assert.Equal(t, int64(len("png bytes")), *batch.Pending[0].FileSizeBytes)
}

func TestOrchestrator_Transfer_ShouldRejectNonMediaURLWithoutStoring(t *testing.T) {
	// given
	f := newFixture(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()
	batch, err := f.orchestrator.SelectURLs(NewBatch("batch"), server.URL)
	require.NoError(t, err)

	// when
	batch, err = f.orchestrator.Transfer(context.Background(), batch)

	// then
	var unsupported *storage.UnsupportedTypeError
	assert.ErrorAs(t, err, &unsupported)
	assert.Equal(t, StateSelecting, batch.State)
	assert.Empty(t, f.storedKeys(t))
}

func TestOrchestrator_Transfer_ShouldRequireInputs(t *testing.T) {
	f := newFixture(t)

	batch, err := f.orchestrator.Transfer(context.Background(), NewBatch("batch"))

	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.Equal(t, StateSelecting, batch.State)
}

func TestOrchestrator_Annotate_ShouldRecordMetadataInTransferOrder(t *testing.T) {
	// given
	f := newFixture(t)
	ctx := context.Background()
	batch, err := f.orchestrator.SelectFiles(NewBatch("batch"), []LocalFile{jpeg("first.jpg", 4), jpeg("second.jpg", 4)})
	require.NoError(t, err)
	batch, err = f.orchestrator.Transfer(ctx, batch)
	require.NoError(t, err)

	// when
	description := "Sunset over the bay"
	takenDate := "2023-08-14"
	annotated, err := f.orchestrator.Annotate(batch, media.Metadata{Description: &description, TakenDate: &takenDate})
	require.NoError(t, err)
	current, ok := annotated.Current()
	require.True(t, ok)
	assert.Equal(t, "second.jpg", current.FileName)
	assert.False(t, annotated.ReadyToCommit())
	annotated, err = f.orchestrator.Skip(annotated)
	require.NoError(t, err)
	committed, err := f.orchestrator.Commit(ctx, annotated)
	require.NoError(t, err)

	// then
	assert.Equal(t, 2, committed.Committed)
	assert.False(t, batch.Pending[0].Annotated, "earlier batch values are not modified")
	items, err := f.repository.GetAllMedia(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	byName := map[string]*media.Item{}
	for _, item := range items {
		byName[item.FileName] = item
	}
	assert.Equal(t, description, *byName["first.jpg"].Description)
	assert.Equal(t, takenDate, *byName["first.jpg"].TakenDate)
	assert.Nil(t, byName["second.jpg"].Description)
}

func TestOrchestrator_Annotate_ShouldRejectInvalidMetadata(t *testing.T) {
	f := newFixture(t)
	batch, err := f.orchestrator.SelectFiles(NewBatch("batch"), []LocalFile{jpeg("a.jpg", 4)})
	require.NoError(t, err)
	batch, err = f.orchestrator.Transfer(context.Background(), batch)
	require.NoError(t, err)

	badDate := "yesterday"
	next, err := f.orchestrator.Annotate(batch, media.Metadata{TakenDate: &badDate})

	var validationErr *media.ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Equal(t, 0, next.Cursor)
}

func TestOrchestrator_Commit_ShouldResumeAfterPartialFailure(t *testing.T) {
	// given
	f := newFixture(t)
	ctx := context.Background()
	creator := &flakyCreator{next: f.repository, failOn: map[int]bool{2: true}}
	f.orchestrator.creator = creator
	batch, err := f.orchestrator.SelectFiles(NewBatch("batch"), []LocalFile{jpeg("a.jpg", 4), jpeg("b.jpg", 4), jpeg("c.jpg", 4)})
	require.NoError(t, err)
	batch, err = f.orchestrator.Transfer(ctx, batch)
	require.NoError(t, err)
	for range batch.Pending {
		batch, err = f.orchestrator.Skip(batch)
		require.NoError(t, err)
	}

	// when
	halted, err := f.orchestrator.Commit(ctx, batch)

	// then
	var persistenceErr *media.PersistenceError
	require.ErrorAs(t, err, &persistenceErr)
	assert.Equal(t, StateAnnotating, halted.State)
	assert.Equal(t, 1, halted.Committed)
	assert.NotEmpty(t, halted.Err)
	items, err := f.repository.GetAllMedia(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a.jpg", items[0].FileName)

	// when retried
	committed, err := f.orchestrator.Commit(ctx, halted)

	// then
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, committed.State)
	assert.Equal(t, 3, committed.Committed)
	items, err = f.repository.GetAllMedia(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	require.Len(t, creator.created, 3)
	assert.Equal(t, "a.jpg", creator.created[0].FileName)
	assert.Equal(t, "b.jpg", creator.created[1].FileName)
	assert.Equal(t, "c.jpg", creator.created[2].FileName)
	assert.Equal(t, []string{"partial_commit", "ingested"}, f.notifier.reasons)
}

func TestOrchestrator_Commit_ShouldRequireEveryUploadAnnotated(t *testing.T) {
	f := newFixture(t)
	batch, err := f.orchestrator.SelectFiles(NewBatch("batch"), []LocalFile{jpeg("a.jpg", 4), jpeg("b.jpg", 4)})
	require.NoError(t, err)
	batch, err = f.orchestrator.Transfer(context.Background(), batch)
	require.NoError(t, err)
	batch, err = f.orchestrator.Skip(batch)
	require.NoError(t, err)

	_, err = f.orchestrator.Commit(context.Background(), batch)

	assert.ErrorIs(t, err, ErrAnnotationIncomplete)
}

func TestOrchestrator_Skip_ShouldFailPastLastUpload(t *testing.T) {
	f := newFixture(t)
	batch, err := f.orchestrator.SelectFiles(NewBatch("batch"), []LocalFile{jpeg("a.jpg", 4)})
	require.NoError(t, err)
	batch, err = f.orchestrator.Transfer(context.Background(), batch)
	require.NoError(t, err)
	batch, err = f.orchestrator.Skip(batch)
	require.NoError(t, err)

	_, err = f.orchestrator.Skip(batch)

	assert.ErrorIs(t, err, ErrAnnotationComplete)
}

func TestOrchestrator_Reset_ShouldDiscardPendingButKeepBlobs(t *testing.T) {
	// given
	f := newFixture(t)
	batch, err := f.orchestrator.SelectFiles(NewBatch("batch"), []LocalFile{jpeg("a.jpg", 4)})
	require.NoError(t, err)
	batch, err = f.orchestrator.Transfer(context.Background(), batch)
	require.NoError(t, err)

	// when
	reset := f.orchestrator.Reset(batch)

	// then
	assert.Equal(t, "batch", reset.ID)
	assert.Equal(t, StateSelecting, reset.State)
	assert.Empty(t, reset.Inputs)
	assert.Empty(t, reset.Pending)
	assert.Len(t, f.storedKeys(t), 1, "transferred blobs are not cleaned up")
}

func TestBatch_TransitionMatrix(t *testing.T) {
	tests := []struct {
		state   State
		action  Action
		allowed bool
	}{
		{StateSelecting, ActionSelect, true},
		{StateSelecting, ActionTransfer, true},
		{StateSelecting, ActionAnnotate, false},
		{StateSelecting, ActionCommit, false},
		{StateTransferring, ActionSelect, false},
		{StateTransferring, ActionTransfer, false},
		{StateAnnotating, ActionAnnotate, true},
		{StateAnnotating, ActionSkip, true},
		{StateAnnotating, ActionCommit, true},
		{StateAnnotating, ActionSelect, false},
		{StateAnnotating, ActionTransfer, false},
		{StateCommitted, ActionCommit, false},
		{StateCommitted, ActionSelect, false},
	}

	for _, tt := range tests {
		err := Batch{State: tt.state}.check(tt.action)
		if tt.allowed {
			assert.NoError(t, err, "%s in %s", tt.action, tt.state)
			continue
		}
		var transitionErr *TransitionError
		if assert.ErrorAs(t, err, &transitionErr, "%s in %s", tt.action, tt.state) {
			assert.Equal(t, tt.state, transitionErr.From)
			assert.Equal(t, tt.action, transitionErr.Action)
		}
	}
}

func TestOrchestrator_Transfer_ShouldReleaseFileBytesOnceTransferred(t *testing.T) {
	// given
	f := newFixture(t)
	selected, err := f.orchestrator.SelectFiles(NewBatch("batch"), []LocalFile{jpeg("a.jpg", 1024), jpeg("b.jpg", 2048)})
	require.NoError(t, err)

	// when
	transferred, err := f.orchestrator.Transfer(context.Background(), selected)

	// then
	require.NoError(t, err)
	require.Len(t, transferred.Inputs, 2)
	for _, in := range transferred.Inputs {
		assert.Nil(t, in.Data)
	}
	assert.Equal(t, int64(2048), transferred.Inputs[1].SizeBytes)
	assert.Len(t, selected.Inputs[0].Data, 1024, "the batch passed in is not modified")
}

func TestOrchestrator_Transfer_ShouldKeepFileBytesForRetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.orchestrator.uploader = &failingUploader{Uploader: f.orchestrator.uploader, failAt: 2}
	batch, err := f.orchestrator.SelectFiles(NewBatch("batch"), []LocalFile{jpeg("a.jpg", 8), jpeg("b.jpg", 8)})
	require.NoError(t, err)

	batch, err = f.orchestrator.Transfer(context.Background(), batch)

	require.Error(t, err)
	require.Len(t, batch.Inputs, 2)
	assert.Len(t, batch.Inputs[1].Data, 8)
}

func TestOrchestrator_SelectFiles_ShouldEnforceBatchLimits(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		first  []LocalFile
		second []LocalFile
		field  string
	}{
		{
			name:   "item count",
			config: Config{MaxBatchItems: 2},
			first:  []LocalFile{jpeg("a.jpg", 4), jpeg("b.jpg", 4)},
			second: []LocalFile{jpeg("c.jpg", 4)},
			field:  "files",
		},
		{
			name:   "total bytes",
			config: Config{MaxBatchBytes: 100},
			first:  []LocalFile{jpeg("a.jpg", 60)},
			second: []LocalFile{jpeg("b.jpg", 30), jpeg("c.jpg", 30)},
			field:  "files",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// given
			f := newFixture(t)
			orchestrator := NewOrchestrator(f.orchestrator.uploader, f.repository, f.notifier, tt.config)
			batch, err := orchestrator.SelectFiles(NewBatch("batch"), tt.first)
			require.NoError(t, err)

			// when
			next, err := orchestrator.SelectFiles(batch, tt.second)

			// then
			var validationErr *media.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
			assert.Equal(t, batch.Inputs, next.Inputs)
		})
	}
}

func TestOrchestrator_SelectFiles_ShouldNotCountDroppedFilesAgainstLimits(t *testing.T) {
	f := newFixture(t)
	orchestrator := NewOrchestrator(f.orchestrator.uploader, f.repository, f.notifier, Config{MaxBatchItems: 1, MaxBatchBytes: 10})

	batch, err := orchestrator.SelectFiles(NewBatch("batch"), []LocalFile{
		{Name: "notes.pdf", MimeType: "application/pdf", Data: make([]byte, 64)},
		jpeg("a.jpg", 10),
	})

	require.NoError(t, err)
	require.Len(t, batch.Inputs, 1)
	assert.Equal(t, "a.jpg", batch.Inputs[0].Name)
}
