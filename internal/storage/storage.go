// Package storage persists analysed images on local disk or in an
// S3-compatible bucket and hands back the URL clients fetch them from.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var extByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
}

// NewName returns "<unix-millis>-<uuid><ext>".  The extension comes from the
// content type of the stored bytes, never from the client's filename.
func NewName(contentType string) string {
	return fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), uuid.NewString(), Ext(contentType))
}

// ThumbnailName is the stored name of the thumbnail belonging to name.
func ThumbnailName(name string) string { return "thumb-" + name }

// Ext maps a MIME type to a file extension; unknown types get ".bin".
func Ext(contentType string) string {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ext, ok := extByType[mt]; ok {
		return ext
	}
	return ".bin"
}

// validName rejects anything that could escape the storage root.
func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid object name %q", name)
	}
	return nil
}
