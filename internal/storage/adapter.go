package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/prappser/memories_server/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxFileSize  = 200 * 1024 * 1024
	defaultFetchTimeout = 60 * time.Second
)

type Blob struct {
	Data     []byte
	MimeType string
}

// Object is the result of a successful transfer.
type Object struct {
	Path      string `json:"storagePath"`
	PublicURL string `json:"publicUrl"`
}

type RemoteObject struct {
	Object
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Adapter moves bytes into the object store. It keeps no state between calls and never touches
// the record store.
type Adapter struct {
	backend     Backend
	client      *http.Client
	keyPrefix   string
	maxFileSize int64
	now         func() time.Time
}

func NewAdapter(backend Backend, config *Config) *Adapter {
	maxFileSize := config.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxFileSize
	}
	fetchTimeout := config.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	return &Adapter{
		backend:     backend,
		client:      newFetchClient(fetchTimeout, config.AllowPrivateFetch),
		keyPrefix:   config.KeyPrefix,
		maxFileSize: maxFileSize,
		now:         time.Now,
	}
}

// newFetchClient checks every dialed address, so redirects and DNS answers pointing at internal
// hosts are refused too. Environment proxies are ignored unless private fetches are allowed.
func newFetchClient(timeout time.Duration, allowPrivate bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !allowPrivate {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   denyPrivateAddress,
		}
		transport.Proxy = nil
		transport.DialContext = dialer.DialContext
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func denyPrivateAddress(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
	}
	return nil
}

func (a *Adapter) UploadBlob(ctx context.Context, blob Blob, suggestedName string) (*Object, error) {
	return a.upload(ctx, "blob", blob, suggestedName)
}

func (a *Adapter) upload(ctx context.Context, source string, blob Blob, suggestedName string) (*Object, error) {
	if len(blob.Data) == 0 {
		return nil, ErrEmptyBlob
	}
	if int64(len(blob.Data)) > a.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrBlobTooLarge, len(blob.Data), a.maxFileSize)
	}

	started := a.now()
	key := newObjectKey(a.keyPrefix, suggestedName, blob.MimeType, started)

	if err := a.backend.Store(ctx, key, bytes.NewReader(blob.Data), int64(len(blob.Data)), normalizeMimeType(blob.MimeType)); err != nil {
		metrics.TransfersTotal.WithLabelValues(source, "error").Inc()
		log.Error().Err(err).Str("key", key).Str("name", suggestedName).Msg("Failed to store blob")
		return nil, &TransferError{Key: key, Err: err}
	}

	metrics.TransfersTotal.WithLabelValues(source, "ok").Inc()
	metrics.TransferBytesTotal.Add(float64(len(blob.Data)))
	metrics.TransferDurationSeconds.WithLabelValues(source).Observe(time.Since(started).Seconds())

	log.Debug().
		Str("key", key).
		Str("name", suggestedName).
		Int("bytes", len(blob.Data)).
		Msg("Blob stored")

	return &Object{Path: key, PublicURL: a.backend.URL(key)}, nil
}

// UploadFromURL fetches sourceURL and stores the body. Nothing is written when the fetch fails or
// the body is not an image or video.
func (a *Adapter) UploadFromURL(ctx context.Context, sourceURL, suggestedName string) (*RemoteObject, error) {
	data, contentType, err := a.fetch(ctx, sourceURL)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("url", "fetch_error").Inc()
		log.Warn().Err(err).Str("url", sourceURL).Msg("Failed to fetch remote media")
		return nil, err
	}

	mimeType := resolveRemoteMimeType(contentType, data)
	if _, err := ClassifyMimeType(mimeType); err != nil {
		metrics.TransfersTotal.WithLabelValues("url", "unsupported").Inc()
		return nil, err
	}

	obj, err := a.upload(ctx, "url", Blob{Data: data, MimeType: mimeType}, suggestedName)
	if err != nil {
		return nil, err
	}
	return &RemoteObject{Object: *obj, MimeType: mimeType, Size: int64(len(data))}, nil
}

func (a *Adapter) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, "", &FetchError{URL: sourceURL, Err: errors.New("url must be an absolute http(s) url")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", &FetchError{URL: sourceURL, Err: err}
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", &FetchError{URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", &FetchError{URL: sourceURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxFileSize+1))
	if err != nil {
		return nil, "", &FetchError{URL: sourceURL, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(data)) > a.maxFileSize {
		return nil, "", &FetchError{URL: sourceURL, Err: ErrBlobTooLarge}
	}
	if len(data) == 0 {
		return nil, "", &FetchError{URL: sourceURL, Err: ErrEmptyBlob}
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// resolveRemoteMimeType trusts a specific Content-Type header, sniffs when the header is absent
// or generic, and falls back to image/jpeg.
func resolveRemoteMimeType(contentType string, data []byte) string {
	header := normalizeMimeType(contentType)
	switch header {
	case "", "application/octet-stream", "binary/octet-stream":
	default:
		return header
	}

	detected := normalizeMimeType(mimetype.Detect(data).String())
	if IsSupportedMimeType(detected) {
		return detected
	}
	return defaultRemoteMimeType
}
