package storage

import (
	"mime"
	"path/filepath"
	"strings"
)

// AllowedImageTypes defines the MIME types accepted for gallery originals.
var AllowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
	"image/tiff": true,
}

var extraTypes = map[string]string{
	".heic": "image/heic",
	".heif": "image/heif",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// DetectContentType returns the MIME type for a filename based on its
// extension, falling back to application/octet-stream.
func DetectContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// IsAllowedImageType checks if a content type is an accepted image format.
func IsAllowedImageType(contentType string) bool {
	baseType := strings.Split(contentType, ";")[0]
	baseType = strings.TrimSpace(strings.ToLower(baseType))
	return AllowedImageTypes[baseType]
}
