package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// newObjectKey builds <prefix><yyyy>/<mm>/<ulid><ext>. The ULID carries the upload time and 80
// random bits, so identically named uploads never share a key.
func newObjectKey(prefix, suggestedName, mimeType string, now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())

	ext := strings.ToLower(filepath.Ext(suggestedName))
	if ext == "" || len(ext) > 10 || strings.ContainsAny(ext, "/\\ ") {
		ext = ExtensionForMimeType(mimeType)
	}

	return fmt.Sprintf("%s%s/%s/%s%s", prefix, now.UTC().Format("2006"), now.UTC().Format("01"), strings.ToLower(id.String()), ext)
}

// keyTime recovers the upload time encoded in a key built by newObjectKey.
func keyTime(key string) (time.Time, bool) {
	base := path.Base(key)
	base = strings.TrimSuffix(base, path.Ext(base))
	id, err := ulid.ParseStrict(strings.ToUpper(base))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}
