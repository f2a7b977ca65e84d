package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
	"github.com/noteduco342/OMChat-backend/internal/models"
)

func TestResolveRecipients(t *testing.T) {
	env := newTestEnv(t, UnreadReset)
	groupID := env.createGroup(t, alice, bob, carol)

	res, err := env.resolver.ResolveRecipients(env.ctx, models.DirectTarget(bob), alice)
	require.NoError(t, err)
	assert.Equal(t, []uint{bob}, res.Recipients)
	assert.Equal(t, models.DirectConversation(bob), res.Conversation)

	res, err = env.resolver.ResolveRecipients(env.ctx, models.GroupTarget(groupID), bob)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{alice, carol}, res.Recipients)
	assert.Equal(t, models.GroupConversation(groupID), res.Conversation)

	errTests := []struct {
		name   string
		target models.Target
		actor  uint
		want   error
	}{
		{"self", models.DirectTarget(alice), alice, apperr.ErrValidation},
		{"missing user", models.DirectTarget(99), alice, apperr.ErrNotFound},
		{"missing group", models.GroupTarget(99), alice, apperr.ErrNotFound},
		{"not a member", models.GroupTarget(groupID), dave, apperr.ErrForbidden},
		{"no target", models.Target{}, alice, apperr.ErrValidation},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.resolver.ResolveRecipients(env.ctx, tt.target, tt.actor)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestAuthorize(t *testing.T) {
	env := newTestEnv(t, UnreadReset)
	groupID := env.createGroup(t, alice, bob)

	assert.NoError(t, env.resolver.Authorize(env.ctx, models.DirectConversation(bob), alice))
	assert.NoError(t, env.resolver.Authorize(env.ctx, models.GroupConversation(groupID), bob))
	assert.True(t, errors.Is(env.resolver.Authorize(env.ctx, models.GroupConversation(groupID), carol), apperr.ErrForbidden))
	assert.True(t, errors.Is(env.resolver.Authorize(env.ctx, models.ConversationKey{}, alice), apperr.ErrValidation))
}
