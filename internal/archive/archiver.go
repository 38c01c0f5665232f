// Package archive persists raw source payloads to blob storage under
// content-addressed paths.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

// Config controls where payloads land.
type Config struct {
	Prefix      string
	ContentType string
}

// Archiver writes payloads to {prefix}/{job_id}/{source}/{sha256}.json.
type Archiver struct {
	blobs       collector.BlobStore
	hasher      collector.Hasher
	prefix      string
	contentType string
}

var _ collector.Archiver = (*Archiver)(nil)

// New builds an Archiver.
func New(blobs collector.BlobStore, hasher collector.Hasher, cfg Config) (*Archiver, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	return &Archiver{
		blobs:       blobs,
		hasher:      hasher,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		contentType: contentType,
	}, nil
}

// Archive stores data and returns the blob URI. Identical payloads for the
// same job and source map to the same object.
func (a *Archiver) Archive(ctx context.Context, jobID string, source collector.SourceType, data []byte) (string, error) {
	if jobID == "" {
		return "", errors.New("job id is required")
	}
	if source == "" {
		return "", errors.New("source type is required")
	}
	digest, err := a.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	objectPath := path.Join(a.prefix, jobID, string(source), digest+".json")
	uri, err := a.blobs.PutObject(ctx, objectPath, a.contentType, bytes.NewReader(data))
	if err != nil {
		return "", collector.Unavailable("archive payload", err)
	}
	return uri, nil
}

// Path returns where Archive would write data, without writing it.
func (a *Archiver) Path(jobID string, source collector.SourceType, data []byte) (string, error) {
	digest, err := a.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return path.Join(a.prefix, jobID, string(source), digest+".json"), nil
}
