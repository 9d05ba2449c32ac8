package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGAssistantBot/internal/events"
)

type recordingPublisher struct {
	events []events.SubscriptionEvent
}

func (p *recordingPublisher) PublishSubscription(_ context.Context, ev events.SubscriptionEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestSweeperExpiresAndReminds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.accounts.Activate(ctx, 20, 1)
	require.NoError(t, err)
	_, err = f.accounts.Activate(ctx, 21, 2)
	require.NoError(t, err)
	_, err = f.accounts.Activate(ctx, 22, 10)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	notifier := &fakeNotifier{}
	sweeper := NewSweeper(f.accounts, pub, nil, time.Hour, nil)
	sweeper.SetNotifier(notifier)

	report, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Expired)
	assert.Equal(t, 1, report.Reminded)
	require.Len(t, notifier.To(20), 1)
	assert.Equal(t, reminderText, notifier.To(20)[0].Text)

	report, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Reminded)
	assert.Len(t, notifier.To(20), 1)

	f.clock.Advance(24 * time.Hour)
	report, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Expired)
	assert.Equal(t, 1, report.Reminded)
	assert.Len(t, notifier.To(21), 1)

	f.clock.Advance(24 * time.Hour)
	report, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{20}, report.Expired)

	acc, _ := f.accounts.Get(ctx, 20)
	assert.False(t, acc.Subscribed)
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.SubscriptionExpired, pub.events[0].Type)
	assert.Equal(t, int64(20), pub.events[0].UserID)

	admin, _ := f.accounts.Get(ctx, testAdminID)
	assert.True(t, admin.Subscribed)
	assert.Empty(t, notifier.To(testAdminID))
}

func TestSweeperRenewalRemindsAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notifier := &fakeNotifier{}
	sweeper := NewSweeper(f.accounts, nil, nil, time.Hour, nil)
	sweeper.SetNotifier(notifier)

	_, err := f.accounts.Activate(ctx, 30, 1)
	require.NoError(t, err)
	_, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.accounts.Activate(ctx, 30, 1)
	require.NoError(t, err)
	report, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded)
	assert.Len(t, notifier.To(30), 2)
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sweeper := NewSweeper(f.accounts, nil, nil, time.Hour, nil)
	require.NoError(t, sweeper.Run(ctx))
}
