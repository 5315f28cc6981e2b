package services

import (
	"context"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := map[string]Command{
		"LOVE":          CommandLove,
		" love ":        CommandLove,
		"Bible":         CommandBible,
		"both":          CommandBoth,
		"STOP":          CommandStop,
		"unsubscribe":   CommandStop,
		"cancel":        CommandStop,
		"HELP":          CommandHelp,
		"info":          CommandHelp,
		"status":        CommandStatus,
		"":              CommandUnknown,
		"love me":       CommandUnknown,
		"please help!!": CommandUnknown,
	}
	for text, want := range tests {
		t.Run(text, func(t *testing.T) {
			assert.Equal(t, want, ParseCommand(text))
		})
	}
}

func TestHandleLoveSubscribes(t *testing.T) {
	env := newTestEnv(t)
	env.seedContent(t)
	ctx := context.Background()

	reply, err := env.sms.Handle(ctx, "+254712345678", "love")
	require.NoError(t, err)
	assert.Equal(t, CommandLove, reply.Command)
	assert.Contains(t, reply.Reply, "Welcome to Daily Love Quotes!")
	assert.Contains(t, reply.Reply, "Cost: Ksh 5/day")
	assert.Contains(t, reply.Reply, "at 09:00")

	texts := env.gateway.textsTo(testPhone)
	require.Len(t, texts, 1)
	assert.Equal(t, reply.Reply, texts[0])

	subscriber, err := env.store.GetSubscriberByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, subscriber.HasActive(models.CategoryLove, env.clock.Now()))

	var inbound int64
	require.NoError(t, env.store.DB().Model(&models.Message{}).Where("kind = ?", models.KindIncoming).Count(&inbound).Error)
	assert.Equal(t, int64(1), inbound)
}

func TestHandleBothThenStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reply, err := env.sms.Handle(ctx, testPhone, "BOTH")
	require.NoError(t, err)
	assert.Contains(t, reply.Reply, "Daily cost: Ksh 10")

	status, err := env.sms.Handle(ctx, testPhone, "STATUS")
	require.NoError(t, err)
	assert.Contains(t, status.Reply, "Love Quotes (daily)")
	assert.Contains(t, status.Reply, "Bible Verses (daily)")

	stop, err := env.sms.Handle(ctx, testPhone, "STOP")
	require.NoError(t, err)
	assert.Contains(t, stop.Reply, "unsubscribed from all services")

	subscriber, err := env.store.GetSubscriberByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, subscriber.ActiveCategories(env.clock.Now()))

	status, err = env.sms.Handle(ctx, testPhone, "STATUS")
	require.NoError(t, err)
	assert.Contains(t, status.Reply, "no active subscriptions")
}

func TestHandleHelpAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	help, err := env.sms.Handle(ctx, testPhone, "help")
	require.NoError(t, err)
	assert.Contains(t, help.Reply, "Dial *22345#")

	unknown, err := env.sms.Handle(ctx, testPhone, "hello there")
	require.NoError(t, err)
	assert.Equal(t, CommandUnknown, unknown.Command)
	assert.Contains(t, unknown.Reply, "Unknown command: \"hello there\"")

	assert.Len(t, env.gateway.textsTo(testPhone), 2)
}

func TestHandleRejectsBadPhone(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.sms.Handle(context.Background(), "12", "LOVE")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Empty(t, env.gateway.sent)
}

func TestHandleReplyFailureIsLogged(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.setSendErr(apperr.ErrTransientProvider)

	reply, err := env.sms.Handle(context.Background(), testPhone, "HELP")
	require.NoError(t, err, "the reply is best-effort")
	assert.NotEmpty(t, reply.Reply)

	var failed int64
	require.NoError(t, env.store.DB().Model(&models.Message{}).Where("status = ?", models.MessageFailed).Count(&failed).Error)
	assert.Equal(t, int64(1), failed)
}
