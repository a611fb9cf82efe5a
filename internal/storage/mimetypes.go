package storage

import (
	"mime"
	"strings"
)

type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
)

const defaultRemoteMimeType = "image/jpeg"

var extensionsByMimeType = map[string]string{
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
	"image/heic":       ".heic",
	"image/heif":       ".heif",
	"image/avif":       ".avif",
	"image/bmp":        ".bmp",
	"image/tiff":       ".tiff",
	"image/svg+xml":    ".svg",
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"video/mov":        ".mov",
	"video/x-msvideo":  ".avi",
	"video/x-matroska": ".mkv",
	"video/3gpp":       ".3gp",
}

// ClassifyMimeType maps a MIME type to exactly one FileType by its top-level prefix.
func ClassifyMimeType(mimeType string) (FileType, error) {
	normalized := normalizeMimeType(mimeType)
	switch {
	case strings.HasPrefix(normalized, "image/"):
		return FileTypeImage, nil
	case strings.HasPrefix(normalized, "video/"):
		return FileTypeVideo, nil
	default:
		return "", &UnsupportedTypeError{MimeType: mimeType}
	}
}

func IsSupportedMimeType(mimeType string) bool {
	_, err := ClassifyMimeType(mimeType)
	return err == nil
}

// ExtensionForMimeType returns a dotted extension, or "" when the type is not known.
func ExtensionForMimeType(mimeType string) string {
	normalized := normalizeMimeType(mimeType)
	if ext, ok := extensionsByMimeType[normalized]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(normalized); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// normalizeMimeType lowercases and drops parameters such as "; charset=binary".
func normalizeMimeType(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = mimeType
		if i := strings.IndexByte(mediaType, ';'); i >= 0 {
			mediaType = mediaType[:i]
		}
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
