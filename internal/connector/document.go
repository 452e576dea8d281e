package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

var documentCapabilities = []string{"read_file", "write_file", "list_files", "upload", "download"}

// DocumentLibrary is the "sharepoint" connector: a document store backed by
// any gocloud.dev blob bucket. upload and download move files between the
// library and the local_file base directory.
type DocumentLibrary struct {
	bucket *blob.Bucket
	local  *LocalFile
}

// OpenDocumentLibrary opens the bucket at bucketURL (mem://, file://, s3://,
// gs://, azblob://).
func OpenDocumentLibrary(ctx context.Context, bucketURL string, local *LocalFile) (*DocumentLibrary, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("connector: open document bucket: %w", err)
	}
	return NewDocumentLibrary(bucket, local), nil
}

// NewDocumentLibrary wraps an open bucket. The library takes ownership of it.
func NewDocumentLibrary(bucket *blob.Bucket, local *LocalFile) *DocumentLibrary {
	return &DocumentLibrary{bucket: bucket, local: local}
}

func (c *DocumentLibrary) Type() string { return "document_library" }

func (c *DocumentLibrary) Capabilities() []string { return documentCapabilities }

// Close closes the underlying bucket.
func (c *DocumentLibrary) Close() error {
	return c.bucket.Close()
}

func (c *DocumentLibrary) Run(ctx context.Context, action string, params Params) (Result, error) {
	switch action {
	case "read_file":
		return c.readFile(ctx, params), nil
	case "write_file":
		return c.writeFile(ctx, params), nil
	case "list_files":
		return c.listFiles(ctx, params), nil
	case "upload":
		return c.upload(ctx, params), nil
	case "download":
		return c.download(ctx, params), nil
	default:
		return Failure("Unknown action: %s", action), nil
	}
}

func documentKey(name string) (string, error) {
	key := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(name)), "/")
	if key == "" || key == "." {
		return "", errors.New("filename is required")
	}
	return key, nil
}

func (c *DocumentLibrary) readFile(ctx context.Context, params Params) Result {
	filename := params.First("filename", "path")
	key, err := documentKey(filename)
	if err != nil {
		return Failure("%s", err)
	}
	data, err := c.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return Failure("Document not found: %s", filename)
		}
		return Failure("Error reading document %s: %v", filename, err)
	}
	return Success(map[string]any{
		"action":     "read_file",
		"filename":   key,
		"content":    string(data),
		"size_bytes": len(data),
	})
}

func (c *DocumentLibrary) writeFile(ctx context.Context, params Params) Result {
	filename := params.First("filename", "path")
	key, err := documentKey(filename)
	if err != nil {
		return Failure("%s", err)
	}
	content, _ := params.String("content")
	opts := &blob.WriterOptions{ContentType: params.StringOr("content_type", "text/plain; charset=utf-8")}
	if err := c.bucket.WriteAll(ctx, key, []byte(content), opts); err != nil {
		return Failure("Error writing document %s: %v", filename, err)
	}
	return Success(map[string]any{
		"action":     "write_file",
		"filename":   key,
		"size_bytes": len(content),
	})
}

func (c *DocumentLibrary) listFiles(ctx context.Context, params Params) Result {
	prefix := strings.TrimPrefix(params.First("directory", "prefix"), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	iter := c.bucket.List(&blob.ListOptions{Prefix: prefix})
	files := make([]map[string]any, 0)
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Failure("Error listing documents: %v", err)
		}
		files = append(files, map[string]any{
			"name":     obj.Key,
			"size":     obj.Size,
			"modified": obj.ModTime.UTC().Format(time.RFC3339),
		})
	}
	return Success(map[string]any{
		"action":    "list_files",
		"directory": prefix,
		"files":     files,
		"count":     len(files),
	})
}

func (c *DocumentLibrary) upload(ctx context.Context, params Params) Result {
	if c.local == nil {
		return Failure("upload requires a local file store")
	}
	source := params.First("local_path", "source")
	src, err := c.local.Resolve(source)
	if err != nil {
		return Failure("%s", err)
	}
	key, err := documentKey(params.StringOr("filename", filepath.Base(source)))
	if err != nil {
		return Failure("%s", err)
	}
	data, err := os.ReadFile(src) //nolint:gosec // path is confined to the base dir by Resolve
	if err != nil {
		return Failure("Local file not found: %s", source)
	}
	if err := c.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return Failure("Error uploading %s: %v", source, err)
	}
	return Success(map[string]any{
		"action":     "upload",
		"local_path": source,
		"filename":   key,
		"size_bytes": len(data),
	})
}

func (c *DocumentLibrary) download(ctx context.Context, params Params) Result {
	if c.local == nil {
		return Failure("download requires a local file store")
	}
	filename := params.First("filename", "path")
	key, err := documentKey(filename)
	if err != nil {
		return Failure("%s", err)
	}
	target := params.StringOr("local_path", path.Base(key))
	dst, err := c.local.Resolve(target)
	if err != nil {
		return Failure("%s", err)
	}
	data, err := c.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return Failure("Document not found: %s", filename)
		}
		return Failure("Error downloading %s: %v", filename, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Failure("Error creating directory for %s: %v", target, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil { //nolint:gosec // path is confined to the base dir by Resolve
		return Failure("Error writing %s: %v", target, err)
	}
	return Success(map[string]any{
		"action":     "download",
		"filename":   key,
		"local_path": target,
		"size_bytes": len(data),
	})
}
