package services

import (
	"context"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendLogsOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg := &models.Message{Recipient: testPhone, Body: "hello", Kind: models.KindReply}
	require.NoError(t, env.notifications.Send(ctx, msg))
	assert.NotEmpty(t, msg.SendID)
	assert.Equal(t, models.ChannelSMS, msg.Channel)
	assert.Equal(t, models.MessageSent, msg.Status)
	assert.Equal(t, "ATXid_1", msg.ProviderMessageID)
	require.NotNil(t, msg.SentAt)

	loaded, err := env.store.GetMessageByProviderID(ctx, "ATXid_1")
	require.NoError(t, err)
	assert.Equal(t, msg.SendID, loaded.SendID)
	assert.Equal(t, "KES 0.8000", loaded.Cost)
}

func TestSendFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.setSendErr(apperr.ErrTransientProvider)

	msg := &models.Message{Recipient: testPhone, Body: "hello", Kind: models.KindDelivery}
	err := env.notifications.Send(context.Background(), msg)
	assert.ErrorIs(t, err, apperr.ErrTransientProvider)
	assert.Equal(t, models.MessageFailed, msg.Status)
	assert.Contains(t, msg.ErrorMessage, "transient")

	env.gateway.setSendErr(nil)
	require.NoError(t, env.notifications.Resend(context.Background(), msg))
	assert.Equal(t, 1, msg.RetryCount)
	assert.Equal(t, models.MessageSent, msg.Status)
	assert.Empty(t, msg.ErrorMessage)
}

func TestTemplatesContent(t *testing.T) {
	tpl := NewTemplates(testConfig())

	love := tpl.Content(models.CategoryLove, &models.Content{Body: "Love is patient.", Author: "Anon"})
	assert.Equal(t, "🥰 Daily Love Quote\n\n\"Love is patient.\"\n\n- Anon\n\nTo unsubscribe, text STOP.\nFor help, text HELP.", love)

	verse := tpl.Content(models.CategoryBible, &models.Content{Body: "The Lord is my shepherd.", Title: "Psalm 23:1"})
	assert.Contains(t, verse, "✝️ Daily Bible Verse")
	assert.Contains(t, verse, "(Psalm 23:1)")
}

func TestTemplatesStatusUsesLocalDate(t *testing.T) {
	tpl := NewTemplates(testConfig())
	entries := []models.CategoryEntry{{
		Category: models.CategoryLove,
		Cycle:    models.CycleDaily,
		EndDate:  testStart.Add(20 * time.Hour), // 2024-05-02 02:00 UTC is 05:00 in Nairobi
	}}
	assert.Contains(t, tpl.Status(entries), "Expires: 02 May 2024")
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "Ksh 5", Money(5))
	assert.Equal(t, "Ksh 2.5", Money(2.5))
}

func TestUnknownTruncatesEcho(t *testing.T) {
	tpl := NewTemplates(testConfig())
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	out := tpl.Unknown(long)
	assert.NotContains(t, out, long)
	assert.Contains(t, out, long[:40])
}
