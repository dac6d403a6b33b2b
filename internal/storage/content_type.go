package storage

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DetectContentType picks a MIME type for an object. An explicit type wins,
// then the filename extension, then sniffing the first 512 bytes of head.
// The fallback is application/octet-stream.
func DetectContentType(providedType, filename string, head []byte) string {
	if providedType != "" {
		return providedType
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}

	if len(head) > 0 {
		return http.DetectContentType(head)
	}

	return "application/octet-stream"
}

// AllowedImageTypes are the chart formats accepted for upload. They match
// what the vision model accepts.
var AllowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true, // non-standard alias some browsers send
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// NormalizeContentType lowercases a MIME type and drops its parameters.
func NormalizeContentType(contentType string) string {
	base := strings.Split(contentType, ";")[0]
	base = strings.TrimSpace(strings.ToLower(base))
	if base == "image/jpg" {
		return "image/jpeg"
	}
	return base
}

// IsAllowedImageType checks a chart upload's content type.
func IsAllowedImageType(contentType string) bool {
	return AllowedImageTypes[NormalizeContentType(contentType)]
}

// IsImage returns true if the content type is any image format.
func IsImage(contentType string) bool {
	return strings.HasPrefix(NormalizeContentType(contentType), "image/")
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ExtensionForContentType returns a file extension, dot included.
func ExtensionForContentType(contentType string) string {
	base := NormalizeContentType(contentType)
	if ext, ok := extensions[base]; ok {
		return ext
	}

	exts, err := mime.ExtensionsByType(base)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}

	return ".bin"
}
