package services

import (
	"context"
	"inspiration-api/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentDelivery(t *testing.T, env *testEnv) *models.Message {
	t.Helper()
	msg := &models.Message{
		Recipient:  testPhone,
		Body:       "quote",
		Kind:       models.KindDelivery,
		Category:   models.CategoryLove,
		CampaignID: models.CampaignID(models.CategoryLove, testStart),
	}
	require.NoError(t, env.notifications.Send(context.Background(), msg))
	require.Equal(t, models.MessageSent, msg.Status)
	return msg
}

func TestDeliveryReportDelivered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	msg := sentDelivery(t, env)

	outcome, err := env.reports.Apply(ctx, &models.DeliveryReport{RequestID: msg.ProviderMessageID, Status: "Success"})
	require.NoError(t, err)
	assert.Equal(t, ReconcileApplied, outcome)

	loaded, err := env.store.GetMessageByProviderID(ctx, msg.ProviderMessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageDelivered, loaded.Status)
	require.NotNil(t, loaded.DeliveredAt)

	outcome, err = env.reports.Apply(ctx, &models.DeliveryReport{RequestID: msg.ProviderMessageID, Status: "Success"})
	require.NoError(t, err)
	assert.Equal(t, ReconcileDuplicate, outcome)
}

func TestDeliveryReportUnknownMessage(t *testing.T) {
	env := newTestEnv(t)
	outcome, err := env.reports.Apply(context.Background(), &models.DeliveryReport{RequestID: "ATXid_unknown", Status: "Success"})
	require.NoError(t, err)
	assert.Equal(t, ReconcileUnknown, outcome)
}

func TestDeliveryReportFailureSchedulesRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	msg := sentDelivery(t, env)

	_, err := env.reports.Apply(ctx, &models.DeliveryReport{RequestID: msg.ProviderMessageID, Status: "Failed", ErrorCode: "AbsentSubscriber"})
	require.NoError(t, err)

	loaded, err := env.store.GetMessageByProviderID(ctx, msg.ProviderMessageID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageFailed, loaded.Status)
	assert.Equal(t, "AbsentSubscriber", loaded.ErrorCode)
	require.NotNil(t, loaded.NextRetryAt)
	assert.WithinDuration(t, testStart.Add(time.Minute), *loaded.NextRetryAt, time.Second)
	assert.False(t, loaded.RetryExhausted)
	assert.Equal(t, 0, env.alerter.count())
}

func TestDeliveryReportExhaustionAlerts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	msg := sentDelivery(t, env)
	msg.RetryCount = 2
	require.NoError(t, env.store.SaveMessage(ctx, msg))

	_, err := env.reports.Apply(ctx, &models.DeliveryReport{RequestID: msg.ProviderMessageID, Status: "Rejected"})
	require.NoError(t, err)

	loaded, err := env.store.GetMessageByProviderID(ctx, msg.ProviderMessageID)
	require.NoError(t, err)
	assert.True(t, loaded.RetryExhausted)
	assert.Nil(t, loaded.NextRetryAt)
	assert.Equal(t, 1, env.alerter.count())
}
