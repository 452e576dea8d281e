package connector_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/nagare/internal/connector"
)

func TestBuiltinsRegisterEveryConnector(t *testing.T) {
	dir := t.TempDir()
	regs, err := connector.Builtins(context.Background(), connector.BuiltinConfig{
		DataDir:       dir,
		ScriptsDir:    filepath.Join(dir, "scripts"),
		CodeTimeout:   time.Second,
		SQLDSN:        "file::memory:",
		DocumentsURL:  "mem://",
		NotifyChannel: "nagare_notifications",
	}, &fakePublisher{}, discard)
	require.NoError(t, err)

	reg, err := connector.NewRegistry(discard, nil, regs...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	assert.Equal(t, []string{"code", "email", "local_file", "notification", "sharepoint", "sql"}, reg.Names())

	res, err := reg.Run(context.Background(), "local_file", "write_file", connector.Params{"filename": "a.txt", "content": "hi"})
	require.NoError(t, err)
	require.False(t, res.IsError(), res.Message)

	res, err = reg.Run(context.Background(), "sharepoint", "upload", connector.Params{"local_path": "a.txt"})
	require.NoError(t, err)
	assert.False(t, res.IsError(), "document library shares the local_file base directory: %s", res.Message)
}

func TestBuiltinsBadDocumentsURL(t *testing.T) {
	_, err := connector.Builtins(context.Background(), connector.BuiltinConfig{
		DataDir:      t.TempDir(),
		SQLDSN:       "file::memory:",
		DocumentsURL: "nosuchscheme://bucket",
	}, nil, discard)
	assert.Error(t, err)
}
