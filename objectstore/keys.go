// Package objectstore addresses document blobs by key.
package objectstore

import (
	"context"
	"fmt"
	"path"
	"strings"
)

const (
	designerPrefix = "designer-docs"
	capturePrefix  = "capture-docs"
)

// Store is the blob surface the workflow needs.
type Store interface {
	Copy(ctx context.Context, srcKey, dstKey string) error
	PresignedUploadURL(ctx context.Context, key string) (string, error)
	PresignedDownloadURL(ctx context.Context, key string) (string, error)
}

// DesignerKey is where the owner uploads the source blob of a document.
func DesignerKey(documentID, fileName string) string {
	return fmt.Sprintf("%s/%s/%s", designerPrefix, documentID, sanitizeName(fileName))
}

// CaptureKey is where a submitted snapshot of the source blob is copied.
func CaptureKey(documentID, sourceKey string) string {
	return fmt.Sprintf("%s/%s/%s", capturePrefix, documentID, sanitizeName(path.Base(sourceKey)))
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(path.Base("/" + strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "/" || name == "." {
		return "document"
	}
	return name
}
