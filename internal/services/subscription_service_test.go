package services

import (
	"context"
	"errors"
	"inspiration-api/internal/apperr"
	"inspiration-api/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "254712345678"

func TestSubscribeCreatesHistoryAndBilling(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.subscriptions.Subscribe(ctx, "0712 345 678", []models.Category{models.CategoryLove}, models.CycleDaily)
	require.NoError(t, err)
	require.Len(t, result.Subscriptions, 1)
	assert.True(t, result.Created[0])

	sub := result.Subscriptions[0]
	assert.Equal(t, testPhone, sub.PhoneNumber)
	assert.Equal(t, models.StatusActive, sub.Status)
	assert.Equal(t, 5.0, sub.Cost)
	assert.WithinDuration(t, testStart.AddDate(0, 0, 1), sub.EndDate, time.Second)

	subscriber, err := env.store.GetSubscriberByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 1, activeEntries(subscriber, models.CategoryLove))
	assert.True(t, subscriber.HasActive(models.CategoryLove, testStart))
	assert.False(t, subscriber.HasActive(models.CategoryBible, testStart))
}

func TestSubscribeReplayKeepsOneActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.subscriptions.Subscribe(ctx, testPhone, []models.Category{models.CategoryLove}, models.CycleDaily)
		require.NoError(t, err)
		env.clock.Advance(time.Minute)
	}

	subscriber, err := env.store.GetSubscriberByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 1, activeEntries(subscriber, models.CategoryLove))
	assert.Len(t, subscriber.Categories, 3, "history is append-only")

	live, err := env.store.ListLiveSubscriptions(ctx, subscriber.ID)
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestSubscribeReplayKeepsPaidEndDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := subscribeOne(t, env, models.CategoryLove)

	env.clock.Advance(6 * time.Hour)
	again := subscribeOne(t, env, models.CategoryLove)
	assert.Equal(t, first.ID, again.ID)
	assert.WithinDuration(t, testStart.AddDate(0, 0, 1), again.EndDate, time.Second)

	subscriber, err := env.store.GetSubscriberByPhone(ctx, testPhone)
	require.NoError(t, err)
	var entry *models.CategoryEntry
	for i := range subscriber.Categories {
		if subscriber.Categories[i].Active {
			entry = &subscriber.Categories[i]
		}
	}
	require.NotNil(t, entry)
	assert.WithinDuration(t, again.EndDate, entry.EndDate, time.Second, "history matches the live subscription")
	assert.True(t, entry.StartDate.After(testStart))
}

func TestSubscribeConcurrentReplays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.subscriptions.Subscribe(ctx, testPhone, models.AllCategories, models.CycleDaily)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	subscriber, err := env.store.GetSubscriberByPhone(ctx, testPhone)
	require.NoError(t, err)
	for _, c := range models.AllCategories {
		assert.Equal(t, 1, activeEntries(subscriber, c))
	}
	live, err := env.store.ListLiveSubscriptions(ctx, subscriber.ID)
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.subscriptions.Subscribe(ctx, "12345", []models.Category{models.CategoryLove}, models.CycleDaily)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = env.subscriptions.Subscribe(ctx, testPhone, []models.Category{"poetry"}, models.CycleDaily)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = env.subscriptions.Subscribe(ctx, testPhone, nil, models.CycleDaily)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCreateOrRenew(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	subscriber, _, err := env.store.FindOrCreateSubscriber(ctx, testPhone, testStart)
	require.NoError(t, err)

	first, created, err := env.subscriptions.CreateOrRenew(ctx, subscriber.ID, models.CategoryBible, models.CycleWeekly)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 30.0, first.Cost)
	assert.WithinDuration(t, testStart.AddDate(0, 0, 7), first.NextBillingDate, time.Second)

	again, created, err := env.subscriptions.CreateOrRenew(ctx, subscriber.ID, models.CategoryBible, models.CycleWeekly)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, _, err = env.subscriptions.CreateOrRenew(ctx, subscriber.ID, models.Category("poetry"), models.CycleDaily)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, _, err = env.subscriptions.CreateOrRenew(ctx, 999, models.CategoryLove, models.CycleDaily)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSubscribeResumesPaused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.subscriptions.Subscribe(ctx, testPhone, []models.Category{models.CategoryBible}, models.CycleWeekly)
	require.NoError(t, err)
	id := result.Subscriptions[0].ID
	assert.Equal(t, 30.0, result.Subscriptions[0].Cost)

	paused, err := env.subscriptions.Pause(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, paused.Status)

	_, err = env.subscriptions.Pause(ctx, id)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	again, err := env.subscriptions.Subscribe(ctx, testPhone, []models.Category{models.CategoryBible}, models.CycleWeekly)
	require.NoError(t, err)
	assert.Equal(t, id, again.Subscriptions[0].ID)
	assert.Equal(t, models.StatusActive, again.Subscriptions[0].Status)
	assert.False(t, again.Created[0])
}

func TestCancelDeactivatesHistoryAndBilling(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.subscriptions.Subscribe(ctx, testPhone, models.AllCategories, models.CycleDaily)
	require.NoError(t, err)

	cancelled, err := env.subscriptions.Cancel(ctx, testPhone, []models.Category{models.CategoryLove}, models.CancelReasonUser)
	require.NoError(t, err)
	assert.Equal(t, []models.Category{models.CategoryLove}, cancelled)

	view, err := env.subscriptions.Status(ctx, testPhone)
	require.NoError(t, err)
	require.Len(t, view.Active, 1)
	assert.Equal(t, models.CategoryBible, view.Active[0].Category)

	for _, sub := range view.Subscriptions {
		if sub.Category == models.CategoryLove {
			assert.Equal(t, models.StatusCancelled, sub.Status)
			assert.False(t, sub.AutoRenew)
			assert.Equal(t, models.CancelReasonUser, sub.CancelReason)
		} else {
			assert.Equal(t, models.StatusActive, sub.Status)
		}
	}

	again, err := env.subscriptions.Cancel(ctx, testPhone, []models.Category{models.CategoryLove}, models.CancelReasonUser)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestCancelUnknownSubscriber(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.subscriptions.Cancel(context.Background(), testPhone, models.AllCategories, models.CancelReasonUser)
	assert.True(t, apperr.IsNotFound(err))
}

func TestSetDeliveryTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	subscriber, err := env.subscriptions.SetDeliveryTime(ctx, testPhone, "18:00")
	require.NoError(t, err)
	assert.Equal(t, "18:00", subscriber.DeliveryTime)

	_, err = env.subscriptions.SetDeliveryTime(ctx, testPhone, "07:15")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func subscribeOne(t *testing.T, env *testEnv, category models.Category) *models.Subscription {
	t.Helper()
	result, err := env.subscriptions.Subscribe(context.Background(), testPhone, []models.Category{category}, models.CycleDaily)
	require.NoError(t, err)
	return result.Subscriptions[0]
}

func TestChargeDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := subscribeOne(t, env, models.CategoryLove)

	outcome, err := env.subscriptions.ChargeDue(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ChargeSkipped, outcome, "not due before the first cycle ends")

	env.clock.Advance(24*time.Hour + time.Minute)
	outcome, err = env.subscriptions.ChargeDue(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ChargeInitiated, outcome)

	loaded, err := env.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Payments, 1)
	entry := loaded.Payments[0]
	assert.Equal(t, models.PaymentPending, entry.Status)
	assert.True(t, entry.InitiatedBySweep)
	assert.NotEmpty(t, entry.ProviderTransactionID)
	assert.True(t, loaded.NextBillingDate.After(env.clock.Now()), "billing date advanced on initiation")
	assert.WithinDuration(t, sub.EndDate, loaded.EndDate, time.Second, "coverage waits for the payment result")

	outcome, err = env.subscriptions.ChargeDue(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ChargeSkipped, outcome)

	require.Len(t, env.gateway.charges, 1)
	assert.Equal(t, testPhone, env.gateway.charges[0].PhoneNumber)
	assert.Equal(t, "love", env.gateway.charges[0].Metadata["category"])
}

func TestChargeDueInitiationFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := subscribeOne(t, env, models.CategoryLove)
	env.clock.Advance(25 * time.Hour)

	env.gateway.chargeErr = apperr.ErrTransientProvider
	outcome, err := env.subscriptions.ChargeDue(ctx, sub.ID)
	assert.ErrorIs(t, err, apperr.ErrTransientProvider)
	assert.Equal(t, ChargeFailed, outcome)

	loaded, err := env.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Payments, 1)
	assert.Equal(t, models.PaymentFailed, loaded.Payments[0].Status)
	assert.WithinDuration(t, sub.NextBillingDate, loaded.NextBillingDate, time.Second, "billing date stays due")
	assert.Equal(t, 1, loaded.ConsecutiveFailures)
	assert.Equal(t, 1, loaded.TotalFailed)
	assert.True(t, loaded.DueForBilling(env.clock.Now()))
}

func TestChargeDueRejectedNumberIsCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := subscribeOne(t, env, models.CategoryLove)
	env.clock.Advance(25 * time.Hour)
	env.gateway.chargeErr = ErrProviderRejected

	for i := 0; i < 3; i++ {
		outcome, err := env.subscriptions.ChargeDue(ctx, sub.ID)
		assert.ErrorIs(t, err, ErrProviderRejected)
		assert.Equal(t, ChargeFailed, outcome)
		env.clock.Advance(15 * time.Minute)
	}

	loaded, err := env.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, loaded.Status)
	assert.Equal(t, models.CancelReasonPaymentFailure, loaded.CancelReason)
	assert.Equal(t, 3, loaded.TotalFailed)
	assert.Len(t, loaded.Payments, 3)
	assert.False(t, loaded.DueForBilling(env.clock.Now()))

	subscriber, err := env.store.GetSubscriberByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 0, activeEntries(subscriber, models.CategoryLove), "history deactivated with the subscription")

	// Later sweeps leave the cancelled subscription alone
	outcome, err := env.subscriptions.ChargeDue(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ChargeSkipped, outcome)
}

func TestChargeNowRequiresActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := subscribeOne(t, env, models.CategoryLove)

	_, err := env.subscriptions.Pause(ctx, sub.ID)
	require.NoError(t, err)
	_, err = env.subscriptions.ChargeNow(ctx, sub.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = env.subscriptions.Resume(ctx, sub.ID)
	require.NoError(t, err)
	outcome, err := env.subscriptions.ChargeNow(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ChargeInitiated, outcome)
}

func pendingCharge(t *testing.T, env *testEnv, sub *models.Subscription) string {
	t.Helper()
	_, err := env.subscriptions.ChargeNow(context.Background(), sub.ID)
	require.NoError(t, err)
	loaded, err := env.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	return loaded.Payments[len(loaded.Payments)-1].ProviderTransactionID
}

func TestApplyPaymentSuccessExtends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := subscribeOne(t, env, models.CategoryLove)

	env.clock.Advance(25 * time.Hour)
	_, err := env.subscriptions.ChargeDue(ctx, sub.ID)
	require.NoError(t, err)
	charged, err := env.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	txID := charged.Payments[0].ProviderTransactionID

	result, err := env.subscriptions.ApplyPaymentResult(ctx, txID, models.PaymentSuccessful, "")
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.False(t, result.Breached)
	assert.Equal(t, 5.0, result.Subscription.TotalPaid)
	assert.Equal(t, 0, result.Subscription.ConsecutiveFailures)
	assert.WithinDuration(t, sub.EndDate.AddDate(0, 0, 1), result.Subscription.EndDate, time.Second)
	assert.WithinDuration(t, charged.NextBillingDate, result.Subscription.NextBillingDate, time.Second, "sweep charges do not advance the date twice")

	subscriber, err := env.store.GetSubscriberByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 5.0, subscriber.TotalSpent)
	active := subscriber.ActiveCategories(env.clock.Now())
	require.Len(t, active, 1)
	assert.WithinDuration(t, result.Subscription.EndDate, active[0].EndDate, time.Second)

	dup, err := env.subscriptions.ApplyPaymentResult(ctx, txID, models.PaymentSuccessful, "")
	require.NoError(t, err)
	assert.False(t, dup.Applied)
	assert.Equal(t, 5.0, dup.Subscription.TotalPaid)
}

func TestApplyManualPaymentExtendsBothDates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := subscribeOne(t, env, models.CategoryBible)
	txID := pendingCharge(t, env, sub)

	result, err := env.subscriptions.ApplyPaymentResult(ctx, txID, models.PaymentSuccessful, "")
	require.NoError(t, err)
	assert.WithinDuration(t, sub.EndDate.AddDate(0, 0, 1), result.Subscription.EndDate, time.Second)
	assert.WithinDuration(t, sub.NextBillingDate.AddDate(0, 0, 1), result.Subscription.NextBillingDate, time.Second)
}

func TestApplyPaymentFailureStreakCancels(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := subscribeOne(t, env, models.CategoryLove)

	for i := 0; i < 2; i++ {
		txID := pendingCharge(t, env, sub)
		result, err := env.subscriptions.ApplyPaymentResult(ctx, txID, models.PaymentFailed, "insufficient funds")
		require.NoError(t, err)
		assert.False(t, result.Breached)
	}

	loaded, err := env.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.ConsecutiveFailures)
	assert.Equal(t, 3, loaded.MaxConsecutiveFailures)

	txID := pendingCharge(t, env, sub)
	result, err := env.subscriptions.ApplyPaymentResult(ctx, txID, models.PaymentFailed, "insufficient funds")
	require.NoError(t, err)
	assert.True(t, result.Breached)
	assert.Equal(t, models.StatusCancelled, result.Subscription.Status)
	assert.Equal(t, 3, result.Subscription.ConsecutiveFailures)
	assert.Equal(t, models.CancelReasonPaymentFailure, result.Subscription.CancelReason)

	subscriber, err := env.store.GetSubscriberByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 0, activeEntries(subscriber, models.CategoryLove), "history deactivated with the cancellation")

	persisted, err := env.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, persisted.Status)
}

func TestApplyPaymentUnknownTransaction(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.subscriptions.ApplyPaymentResult(context.Background(), "nope", models.PaymentSuccessful, "")
	assert.True(t, apperr.IsNotFound(err))
}

func TestApplyPaymentOrphanEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := subscribeOne(t, env, models.CategoryLove)
	txID := pendingCharge(t, env, sub)

	require.NoError(t, env.store.DB().Unscoped().Delete(&models.Subscription{}, sub.ID).Error)

	_, err := env.subscriptions.ApplyPaymentResult(ctx, txID, models.PaymentSuccessful, "")
	assert.True(t, errors.Is(err, apperr.ErrInternalInconsistency))
}

func TestExpireLapsed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub := subscribeOne(t, env, models.CategoryLove)

	expired, err := env.subscriptions.ExpireLapsed(ctx, sub.ID, env.clock.Now())
	require.NoError(t, err)
	assert.False(t, expired)

	env.clock.Advance(72 * time.Hour)
	expired, err = env.subscriptions.ExpireLapsed(ctx, sub.ID, env.clock.Now().Add(-env.cfg.ExpiryGrace))
	require.NoError(t, err)
	assert.True(t, expired)

	loaded, err := env.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, loaded.Status)

	subscriber, err := env.store.GetSubscriberByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 0, activeEntries(subscriber, models.CategoryLove))
}

func TestPausedCategories(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	love := subscribeOne(t, env, models.CategoryLove)
	subscribeOne(t, env, models.CategoryBible)

	_, err := env.subscriptions.Pause(ctx, love.ID)
	require.NoError(t, err)

	paused, err := env.subscriptions.PausedCategories(ctx, love.SubscriberID)
	require.NoError(t, err)
	assert.True(t, paused[models.CategoryLove])
	assert.False(t, paused[models.CategoryBible])
}
