// Package tracker holds the per-owner habit and task collections. Every
// mutation is applied to a copy of the owner's collection, written through
// the Persistence adapter, and only then made visible.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/streak"
)

// Owner identifies the caller of a quota-checked operation.
type Owner struct {
	ID   int64
	Plan model.Plan
}

// Persistence stores one JSON document per owner. Save must reject the
// write when the stored version differs from expected; version 0 means no
// document exists yet. Version reports the stored version without reading
// the document.
type Persistence interface {
	Load(ctx context.Context, ownerID int64) (doc []byte, version int64, err error)
	Save(ctx context.Context, ownerID, expected int64, doc []byte) (int64, error)
	Version(ctx context.Context, ownerID int64) (int64, error)
}

// Notifier delivers a short message to an owner. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ownerID int64, title, message string) error
}

// Notifiers fans a notification out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ownerID int64, title, message string) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, ownerID, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the time zone used to derive day keys.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

type collection struct {
	version int64
	day     string // day the habit flags were derived for
	items   []model.Item
}

type ownerState struct {
	mu  sync.Mutex
	col *collection
}

// Store serializes all mutations of one owner's collection behind that
// owner's lock. Different owners proceed in parallel.
type Store struct {
	persist  Persistence
	notifier Notifier
	now      func() time.Time
	loc      *time.Location
	logger   *slog.Logger

	mu     sync.Mutex
	owners map[int64]*ownerState
}

func New(p Persistence, opts ...Option) *Store {
	s := &Store{
		persist: p,
		now:     time.Now,
		loc:     time.Local,
		logger:  slog.Default(),
		owners:  make(map[int64]*ownerState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tracker")
	return s
}

// Today returns the current day key in the store's time zone.
func (s *Store) Today() string {
	return streak.DayKey(s.now().In(s.loc))
}

// Location is the time zone day keys are derived in.
func (s *Store) Location() *time.Location {
	return s.loc
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func (s *Store) state(ownerID int64) *ownerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.owners[ownerID]
	if !ok {
		st = &ownerState{}
		s.owners[ownerID] = st
	}
	return st
}

// load returns the owner's collection. The cache is used only while its
// version matches the stored one; another process writing the same owner
// forces a reload. Caller holds st.mu.
func (s *Store) load(ctx context.Context, ownerID int64, st *ownerState) (*collection, error) {
	if st.col != nil {
		version, err := s.persist.Version(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("%w: check collection version: %v", ErrPersistence, err)
		}
		if version == st.col.version {
			s.refreshDay(st.col)
			return st.col, nil
		}
		s.logger.Debug("collection changed elsewhere, reloading",
			"owner_id", ownerID, "cached", st.col.version, "stored", version)
		st.col = nil
	}
	doc, version, err := s.persist.Load(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: load collection: %v", ErrPersistence, err)
	}
	col := &collection{version: version, items: []model.Item{}}
	if len(doc) > 0 {
		var snap model.Snapshot
		if err := json.Unmarshal(doc, &snap); err != nil {
			return nil, fmt.Errorf("%w: decode collection: %v", ErrPersistence, err)
		}
		if snap.Data.Items != nil {
			col.items = snap.Data.Items
		}
	}
	s.refreshDay(col)
	st.col = col
	return col, nil
}

// refreshDay re-derives the day-dependent habit flags once the day has
// turned over since they were last computed.
func (s *Store) refreshDay(col *collection) {
	today := s.Today()
	if col.day == today {
		return
	}
	for i := range col.items {
		if h := col.items[i].Habit; h != nil {
			streak.Recompute(h, today)
		}
	}
	col.day = today
}

// read runs fn against the owner's collection under the owner lock. fn must
// not retain or modify items.
func (s *Store) read(ctx context.Context, ownerID int64, fn func(items []model.Item) error) error {
	st := s.state(ownerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	col, err := s.load(ctx, ownerID, st)
	if err != nil {
		return err
	}
	return fn(col.items)
}

// mutate hands fn a deep copy of the collection. When fn succeeds, the
// returned items are persisted and become the owner's collection. A failed
// write discards the cache so the next access re-reads durable state.
func (s *Store) mutate(ctx context.Context, ownerID int64, fn func(items []model.Item) ([]model.Item, error)) error {
	st := s.state(ownerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	col, err := s.load(ctx, ownerID, st)
	if err != nil {
		return err
	}

	next, err := fn(cloneItems(col.items))
	if err != nil {
		return err
	}

	doc, err := s.encode(next, model.FeatureAll)
	if err != nil {
		return fmt.Errorf("%w: encode collection: %v", ErrPersistence, err)
	}
	version, err := s.persist.Save(ctx, ownerID, col.version, doc)
	if err != nil {
		st.col = nil
		return fmt.Errorf("%w: save collection: %v", ErrPersistence, err)
	}

	st.col = &collection{version: version, day: col.day, items: next}
	return nil
}

func (s *Store) encode(items []model.Item, feature string) ([]byte, error) {
	if items == nil {
		items = []model.Item{}
	}
	snap := model.Snapshot{
		Version:    model.SnapshotVersion,
		ExportDate: s.timestamp(),
		Feature:    feature,
		Data: model.SnapshotData{
			Items:     items,
			Aggregate: streak.Summarize(items, s.Today()),
		},
	}
	return json.Marshal(snap)
}

// notify is fire and forget; failures never reach the caller.
func (s *Store) notify(ctx context.Context, ownerID int64, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ownerID, title, message); err != nil {
		s.logger.Debug("notification dropped", "owner_id", ownerID, "error", err)
	}
}

func cloneItems(items []model.Item) []model.Item {
	out := make([]model.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

func indexOf(items []model.Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func activeCount(items []model.Item, kind model.Kind) int {
	n := 0
	for _, it := range items {
		if it.Kind == kind && !it.Archived {
			n++
		}
	}
	return n
}
