package artifact_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"

	"github.com/ashita-ai/nagare/internal/artifact"
	"github.com/ashita-ai/nagare/internal/model"
)

func sampleDoc(flowID int64, version int) artifact.Document {
	flow := model.Flow{ID: flowID, Name: "Echo", Description: "reads a file"}
	v := model.FlowVersion{
		FlowID:    flowID,
		VersionNo: version,
		Author:    "alice",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Steps: []model.Step{{
			ID: "s1", Name: "read", Type: "local_file", Action: "read_file",
			Params:  map[string]any{"filename": "file1.txt"},
			OnError: model.OnErrorContinue,
		}},
	}
	return artifact.NewDocument(flow, v)
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := artifact.New(memblob.OpenBucket(nil))
	t.Cleanup(func() { _ = store.Close() })

	doc := sampleDoc(7, 2)
	require.NoError(t, store.Put(ctx, doc))

	got, err := store.Get(ctx, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, doc.Name, got.Name)
	assert.Equal(t, doc.CreatedAt, got.CreatedAt)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "read_file", got.Steps[0].Action)
	assert.Equal(t, "file1.txt", got.Steps[0].Params["filename"])
	assert.Equal(t, model.OnErrorContinue, got.Steps[0].OnError)

	_, err = store.Get(ctx, 7, 3)
	assert.ErrorIs(t, err, artifact.ErrNotMirrored)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFileLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bucket, err := fileblob.OpenBucket(dir, nil)
	require.NoError(t, err)
	store := artifact.New(bucket)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Put(ctx, sampleDoc(1, 1)))
	data, err := os.ReadFile(filepath.Join(dir, "flows", "1", "v1.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: Echo")
	assert.Contains(t, string(data), "onError: continue")
	assert.Equal(t, "flows/1/v1.yaml", artifact.Key(1, 1))
}

func TestDeleteFlowRemovesOnlyThatFlow(t *testing.T) {
	ctx := context.Background()
	store := artifact.New(memblob.OpenBucket(nil))
	t.Cleanup(func() { _ = store.Close() })

	for v := 1; v <= 3; v++ {
		require.NoError(t, store.Put(ctx, sampleDoc(1, v)))
	}
	require.NoError(t, store.Put(ctx, sampleDoc(10, 1)))

	n, err := store.DeleteFlow(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = store.Get(ctx, 1, 1)
	assert.ErrorIs(t, err, artifact.ErrNotMirrored)
	_, err = store.Get(ctx, 10, 1)
	assert.NoError(t, err, "flows/10/ must not match the flows/1/ prefix")

	n, err = store.DeleteFlow(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenByURL(t *testing.T) {
	store, err := artifact.Open(context.Background(), "mem://")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = artifact.Open(context.Background(), "nope://x")
	assert.Error(t, err)
}
