package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/nagare/internal/auth"
)

func TestWriteKeyPair(t *testing.T) {
	dir := t.TempDir()
	privPath, pubPath, err := auth.WriteKeyPair(dir)
	require.NoError(t, err)

	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	token, _, err := mgr.IssueToken(testPrincipal())
	require.NoError(t, err)
	_, err = mgr.ValidateToken(token)
	require.NoError(t, err)

	_, _, err = auth.WriteKeyPair(dir)
	assert.ErrorContains(t, err, "already exists")
}
