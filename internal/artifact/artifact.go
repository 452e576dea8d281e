// Package artifact mirrors flow versions to YAML documents in a blob bucket.
//
// Keys follow flows/<flow_id>/v<version_no>.yaml. The relational store stays
// the source of truth; the mirror exists for operators who want plain files.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"gopkg.in/yaml.v3"

	// Bucket drivers selectable by URL scheme.
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ashita-ai/nagare/internal/model"
)

// ErrNotMirrored is returned by Get when no document exists for a version.
var ErrNotMirrored = fmt.Errorf("artifact: version not mirrored: %w", model.ErrNotFound)

// Document is the YAML form of one flow version.
type Document struct {
	FlowID      int64        `yaml:"flow_id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Version     int          `yaml:"version"`
	Author      string       `yaml:"author,omitempty"`
	CreatedAt   time.Time    `yaml:"created_at"`
	Steps       []model.Step `yaml:"steps"`
}

// NewDocument builds the mirror document for a version of flow.
func NewDocument(flow model.Flow, v model.FlowVersion) Document {
	return Document{
		FlowID:      flow.ID,
		Name:        flow.Name,
		Description: flow.Description,
		Version:     v.VersionNo,
		Author:      v.Author,
		CreatedAt:   v.CreatedAt.UTC(),
		Steps:       v.Steps,
	}
}

// Store reads and writes mirror documents.
type Store struct {
	bucket *blob.Bucket
}

// Open opens the bucket at bucketURL.
func Open(ctx context.Context, bucketURL string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("artifact: open bucket: %w", err)
	}
	return New(bucket), nil
}

// New wraps an open bucket. The store takes ownership of it.
func New(bucket *blob.Bucket) *Store {
	return &Store{bucket: bucket}
}

// Close closes the underlying bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func flowPrefix(flowID int64) string {
	return fmt.Sprintf("flows/%d/", flowID)
}

// Key returns the object key of a version document.
func Key(flowID int64, versionNo int) string {
	return fmt.Sprintf("%sv%d.yaml", flowPrefix(flowID), versionNo)
}

// Put writes doc, replacing any existing document for the same version.
func (s *Store) Put(ctx context.Context, doc Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("artifact: encode flow %d v%d: %w", doc.FlowID, doc.Version, err)
	}
	opts := &blob.WriterOptions{ContentType: "application/yaml"}
	if err := s.bucket.WriteAll(ctx, Key(doc.FlowID, doc.Version), data, opts); err != nil {
		return fmt.Errorf("artifact: write flow %d v%d: %w", doc.FlowID, doc.Version, err)
	}
	return nil
}

// Get reads the document for one version.
func (s *Store) Get(ctx context.Context, flowID int64, versionNo int) (Document, error) {
	data, err := s.bucket.ReadAll(ctx, Key(flowID, versionNo))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return Document{}, ErrNotMirrored
		}
		return Document{}, fmt.Errorf("artifact: read flow %d v%d: %w", flowID, versionNo, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("artifact: decode flow %d v%d: %w", flowID, versionNo, err)
	}
	return doc, nil
}

// DeleteFlow removes every document of a flow and returns how many were
// deleted. Deleting a flow with no documents is not an error.
func (s *Store) DeleteFlow(ctx context.Context, flowID int64) (int, error) {
	iter := s.bucket.List(&blob.ListOptions{Prefix: flowPrefix(flowID)})
	var keys []string
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("artifact: list flow %d: %w", flowID, err)
		}
		if !obj.IsDir {
			keys = append(keys, obj.Key)
		}
	}

	deleted := 0
	for _, key := range keys {
		if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return deleted, fmt.Errorf("artifact: delete %s: %w", key, err)
		}
		deleted++
	}
	return deleted, nil
}
