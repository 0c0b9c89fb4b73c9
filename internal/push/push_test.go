package push

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stride/internal/database"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/store"
	"github.com/dukerupert/stride/internal/tracker"
)

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	require.NoError(t, err)

	// Uncompressed P-256 point.
	pubBytes, err := base64.RawURLEncoding.DecodeString(pub)
	require.NoError(t, err)
	assert.Len(t, pubBytes, 65)

	privBytes, err := base64.RawURLEncoding.DecodeString(priv)
	require.NoError(t, err)
	assert.Len(t, privBytes, 32)

	pub2, _, _ := GenerateVAPIDKeys()
	assert.NotEqual(t, pub, pub2)
}

func TestServiceEnabled(t *testing.T) {
	var nilSvc *Service
	assert.False(t, nilSvc.Enabled())
	assert.False(t, NewService("", "", "mailto:ops@example.com").Enabled())
	assert.True(t, NewService("pub", "priv", "mailto:ops@example.com").Enabled())
}

type sentPush struct {
	endpoint string
	payload  Payload
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sentPush
	expired map[string]bool
}

func (f *fakeSender) Send(_ context.Context, sub *model.PushSubscription, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired[sub.Endpoint] {
		return ErrExpired
	}
	f.sent = append(f.sent, sentPush{endpoint: sub.Endpoint, payload: p})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	push   *store.PushStore
	users  *store.UserStore
	sender *fakeSender
	disp   *Dispatcher
	userID int64
}

func newFixture(t *testing.T, plan model.Plan) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	u, err := users.Create("push@example.com", "Pusher", "hash")
	require.NoError(t, err)
	require.NoError(t, users.SetPlan(u.ID, plan))

	ps := store.NewPushStore(db)
	_, err = ps.CreateSubscription(u.ID, "https://push.example.com/a", "k", "a", "Phone")
	require.NoError(t, err)

	sender := &fakeSender{expired: map[string]bool{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		push:   ps,
		users:  users,
		sender: sender,
		disp:   NewDispatcher(sender, ps, users, logger),
		userID: u.ID,
	}
}

func TestDeliverRequiresPushEntitlement(t *testing.T) {
	f := newFixture(t, model.PlanFree)

	n := f.disp.Deliver(context.Background(), f.userID, model.NotifTypeActivity, Payload{Title: "x"})
	assert.Zero(t, n)
	assert.Zero(t, f.sender.count())
}

func TestDeliverAllDevices(t *testing.T) {
	f := newFixture(t, model.PlanPremium)
	_, err := f.push.CreateSubscription(f.userID, "https://push.example.com/b", "k", "a", "Laptop")
	require.NoError(t, err)

	n := f.disp.Deliver(context.Background(), f.userID, model.NotifTypeActivity, Payload{Title: "x"})
	assert.Equal(t, 2, n)
}

func TestDeliverRespectsPreference(t *testing.T) {
	f := newFixture(t, model.PlanPremium)
	require.NoError(t, f.push.SetPreference(f.userID, model.NotifTypeActivity, false))

	n := f.disp.Deliver(context.Background(), f.userID, model.NotifTypeActivity, Payload{Title: "x"})
	assert.Zero(t, n)
}

func TestDeliverRemovesExpiredSubscription(t *testing.T) {
	f := newFixture(t, model.PlanPro)
	f.sender.expired["https://push.example.com/a"] = true

	n := f.disp.Deliver(context.Background(), f.userID, model.NotifTypeActivity, Payload{Title: "x"})
	assert.Zero(t, n)

	subs, err := f.push.ListByUser(f.userID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSendTestIgnoresPreferences(t *testing.T) {
	f := newFixture(t, model.PlanFree)

	n, err := f.disp.SendTest(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, f.push.DeleteByEndpoint("https://push.example.com/a"))
	_, err = f.disp.SendTest(context.Background(), f.userID)
	assert.Error(t, err)
}

func TestNotifyIsAsynchronous(t *testing.T) {
	f := newFixture(t, model.PlanPremium)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.disp.Start(ctx)
	defer f.disp.Stop()

	require.NoError(t, f.disp.Notify(ctx, f.userID, "Habit completed", "Read: 3 day streak"))
	require.Eventually(t, func() bool { return f.sender.count() == 1 }, time.Second, 5*time.Millisecond)

	f.sender.mu.Lock()
	got := f.sender.sent[0].payload
	f.sender.mu.Unlock()
	assert.Equal(t, "Habit completed", got.Title)
	assert.Equal(t, "Read: 3 day streak", got.Body)
}

func TestNotifyQueueFull(t *testing.T) {
	f := newFixture(t, model.PlanPremium)

	// No worker running, so the queue only fills.
	for range queueSize {
		require.NoError(t, f.disp.Notify(context.Background(), f.userID, "t", "m"))
	}
	assert.ErrorIs(t, f.disp.Notify(context.Background(), f.userID, "t", "m"), ErrQueueFull)
}

func newTestScheduler(t *testing.T, f *fixture, now *time.Time) (*Scheduler, *tracker.Store) {
	t.Helper()
	clock := func() time.Time { return *now }
	tr := tracker.New(tracker.NewMemoryPersistence(),
		tracker.WithClock(clock),
		tracker.WithLocation(time.UTC),
	)
	s := NewScheduler(f.disp, f.push, tr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = clock
	return s, tr
}

func TestSchedulerHabitReminder(t *testing.T) {
	f := newFixture(t, model.PlanPremium)
	now := time.Date(2026, 3, 4, 6, 59, 0, 0, time.UTC)
	s, tr := newTestScheduler(t, f, &now)
	ctx := context.Background()

	owner := tracker.Owner{ID: f.userID, Plan: model.PlanPremium}
	_, err := tr.Create(ctx, owner, model.KindHabit, tracker.Fields{Name: "Stretch", ReminderTime: "07:00"})
	require.NoError(t, err)
	_, err = tr.Create(ctx, owner, model.KindHabit, tracker.Fields{Name: "No reminder"})
	require.NoError(t, err)

	s.Tick(ctx)
	assert.Zero(t, f.sender.count(), "before reminder time")

	now = now.Add(2 * time.Minute)
	s.Tick(ctx)
	require.Equal(t, 1, f.sender.count())
	assert.Equal(t, "Time for Stretch", f.sender.sent[0].payload.Body)

	s.Tick(ctx)
	assert.Equal(t, 1, f.sender.count(), "reminder is sent once per day")
}

func TestSchedulerSkipsCompletedHabit(t *testing.T) {
	f := newFixture(t, model.PlanPremium)
	now := time.Date(2026, 3, 4, 7, 30, 0, 0, time.UTC)
	s, tr := newTestScheduler(t, f, &now)
	ctx := context.Background()

	owner := tracker.Owner{ID: f.userID, Plan: model.PlanPremium}
	h, err := tr.Create(ctx, owner, model.KindHabit, tracker.Fields{Name: "Stretch", ReminderTime: "07:00"})
	require.NoError(t, err)
	_, err = tr.ToggleCompletion(ctx, f.userID, h.ID, "")
	require.NoError(t, err)

	s.Tick(ctx)
	assert.Zero(t, f.sender.count())
}

func TestSchedulerTaskSummary(t *testing.T) {
	f := newFixture(t, model.PlanPremium)
	now := time.Date(2026, 3, 4, 7, 0, 0, 0, time.UTC)
	s, tr := newTestScheduler(t, f, &now)
	ctx := context.Background()

	owner := tracker.Owner{ID: f.userID, Plan: model.PlanPremium}
	for _, fields := range []tracker.Fields{
		{Name: "Overdue", DueDate: "2026-03-01"},
		{Name: "Today", DueDate: "2026-03-04"},
		{Name: "Later", DueDate: "2026-03-10"},
		{Name: "Undated"},
	} {
		_, err := tr.Create(ctx, owner, model.KindTask, fields)
		require.NoError(t, err)
	}

	s.Tick(ctx)
	assert.Zero(t, f.sender.count(), "before summary hour")

	now = time.Date(2026, 3, 4, SummaryHour, 0, 0, 0, time.UTC)
	s.Tick(ctx)
	require.Equal(t, 1, f.sender.count())
	assert.Equal(t, "You have 2 tasks due", f.sender.sent[0].payload.Body)

	s.Tick(ctx)
	assert.Equal(t, 1, f.sender.count())
}

func TestSchedulerStartStop(t *testing.T) {
	f := newFixture(t, model.PlanPremium)
	now := time.Date(2026, 3, 4, 7, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, f, &now)
	s.interval = time.Millisecond

	s.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	s.Stop()
}
