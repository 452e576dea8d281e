package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/nagare/internal/auth"
	"github.com/ashita-ai/nagare/internal/model"
)

func TestClaimsRoundTrip(t *testing.T) {
	assert.Nil(t, ClaimsFromContext(context.Background()))
	assert.Empty(t, SubjectFromContext(context.Background()))
	assert.False(t, HasRole(context.Background(), model.RoleViewer))

	ctx := WithClaims(context.Background(), &auth.Claims{Name: "ops", Role: model.RoleEditor})
	assert.Equal(t, "ops", SubjectFromContext(ctx))
	assert.True(t, HasRole(ctx, model.RoleViewer))
	assert.True(t, HasRole(ctx, model.RoleEditor))
	assert.False(t, HasRole(ctx, model.RoleAdmin))
}
