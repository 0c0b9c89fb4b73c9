package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/stride/internal/entitlement"
	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/store"
)

// ErrQueueFull is returned by Notify when the delivery queue is saturated.
var ErrQueueFull = errors.New("push queue full")

const queueSize = 256

type job struct {
	userID    int64
	notifType string
	payload   Payload
}

// Dispatcher delivers notifications to every device of a user whose plan
// includes push and who has not muted the notification type. Notify only
// enqueues; a background worker does the sending.
type Dispatcher struct {
	sender Sender
	push   *store.PushStore
	users  *store.UserStore
	logger *slog.Logger

	queue  chan job
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, ps *store.PushStore, us *store.UserStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		push:   ps,
		users:  us,
		logger: logger.With("component", "push"),
		queue:  make(chan job, queueSize),
	}
}

// Start runs the delivery worker until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-d.queue:
				d.Deliver(ctx, j.userID, j.notifType, j.payload)
			}
		}
	}()
}

// Stop cancels the worker and waits for it to exit. Jobs still queued are
// dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// Notify queues an activity notification for ownerID.
func (d *Dispatcher) Notify(_ context.Context, ownerID int64, title, message string) error {
	j := job{
		userID:    ownerID,
		notifType: model.NotifTypeActivity,
		payload:   Payload{Title: title, Body: message, URL: "/", Tag: "activity"},
	}
	select {
	case d.queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Deliver sends payload to all of the user's subscriptions right away and
// returns how many devices accepted it. Expired subscriptions are removed.
func (d *Dispatcher) Deliver(ctx context.Context, userID int64, notifType string, payload Payload) int {
	ok, err := d.allowed(userID, notifType)
	if err != nil {
		d.logger.Error("check push eligibility", "user_id", userID, "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	return d.send(ctx, userID, payload)
}

// SendTest delivers a test message regardless of preferences.
func (d *Dispatcher) SendTest(ctx context.Context, userID int64) (int, error) {
	subs, err := d.push.ListByUser(userID)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, fmt.Errorf("no push subscriptions")
	}
	return d.send(ctx, userID, Payload{Title: "Stride", Body: "Push notifications are working.", Tag: "test"}), nil
}

func (d *Dispatcher) allowed(userID int64, notifType string) (bool, error) {
	user, err := d.users.GetByID(userID)
	if err != nil {
		return false, err
	}
	if user == nil || !entitlement.Resolve(user.Plan).Has(entitlement.FeaturePushNotifications) {
		return false, nil
	}
	return d.push.IsPreferenceEnabled(userID, notifType)
}

func (d *Dispatcher) send(ctx context.Context, userID int64, payload Payload) int {
	subs, err := d.push.ListByUser(userID)
	if err != nil {
		d.logger.Error("list push subscriptions", "user_id", userID, "error", err)
		return 0
	}

	delivered := 0
	for i := range subs {
		sub := &subs[i]
		err := d.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrDisabled):
			return 0
		case errors.Is(err, ErrExpired):
			d.logger.Info("removing expired push subscription", "user_id", userID, "subscription_id", sub.ID)
			if err := d.push.DeleteByEndpoint(sub.Endpoint); err != nil {
				d.logger.Error("delete expired subscription", "error", err)
			}
		default:
			d.logger.Warn("push send failed", "user_id", userID, "subscription_id", sub.ID, "error", err)
		}
	}
	return delivered
}
