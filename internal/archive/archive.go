// Package archive writes completed job documents to a BlobStore under
// content-addressed paths.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/url-ingest/internal/ingest"
)

const defaultContentType = "text/markdown; charset=utf-8"

// Archiver stores markdown as <prefix>/<job id>/<sha256>.md.
type Archiver struct {
	store       ingest.BlobStore
	prefix      string
	contentType string
}

// New builds an Archiver over store.
func New(store ingest.BlobStore, prefix string) (*Archiver, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	return &Archiver{
		store:       store,
		prefix:      strings.Trim(prefix, "/"),
		contentType: defaultContentType,
	}, nil
}

// Path returns the object path for a document.
func (a *Archiver) Path(id ingest.JobID, markdown []byte) string {
	sum := sha256.Sum256(markdown)
	name := fmt.Sprintf("%d/%s.md", id, hex.EncodeToString(sum[:]))
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

// Store writes the markdown and returns its URI.
func (a *Archiver) Store(ctx context.Context, id ingest.JobID, markdown string) (string, error) {
	data := []byte(markdown)
	uri, err := a.store.PutObject(ctx, a.Path(id, data), a.contentType, data)
	if err != nil {
		return "", fmt.Errorf("archive job %d: %w", id, err)
	}
	return uri, nil
}
