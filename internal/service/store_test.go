package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mmeshcher/genquota/internal/model"
	"github.com/mmeshcher/genquota/internal/repository"
)

// memStore повторяет семантику атомарных операций PostgresRepository в памяти:
// каждая операция выполняется под мьютексом, транзакции активации сериализованы
// и откатываются при ошибке.
type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	slots    map[string]model.ConcurrencySlot
	attempts map[string]attemptRow

	entries []model.LedgerEntry

	codes       map[string]model.RedeemableCode
	packages    map[int64]model.PointsPackage
	plans       map[int64]model.SubscriptionPlan
	subs        map[string]model.Subscription
	redemptions []model.RedemptionRecord

	nextID int64

	errAcquire          error
	errInsertRedemption error
	insertCodesErrs     []error
}

type attemptRow struct {
	count int
	day   time.Time
}

func newMemStore() *memStore {
	return &memStore{
		slots:    map[string]model.ConcurrencySlot{},
		attempts: map[string]attemptRow{},
		codes:    map[string]model.RedeemableCode{},
		packages: map[int64]model.PointsPackage{},
		plans:    map[int64]model.SubscriptionPlan{},
		subs:     map[string]model.Subscription{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func copySlot(slot model.ConcurrencySlot) model.ConcurrencySlot {
	if slot.Max != nil {
		v := *slot.Max
		slot.Max = &v
	}
	return slot
}

// slots

func (s *memStore) AcquireSlot(ctx context.Context, origin string, maxConcurrency *int) (model.ConcurrencySlot, bool, error) {
	if s.errAcquire != nil {
		return model.ConcurrencySlot{}, false, s.errAcquire
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.slots[origin]
	slot.OriginKey = origin
	slot.Max = nil
	if maxConcurrency != nil {
		v := *maxConcurrency
		slot.Max = &v
	}
	slot.UpdatedAt = time.Now()

	admitted := slot.Max == nil || slot.Current < *slot.Max
	if admitted {
		slot.Current++
	}
	s.slots[origin] = slot

	return copySlot(slot), admitted, nil
}

func (s *memStore) ReleaseSlot(ctx context.Context, origin string) (model.ConcurrencySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[origin]
	if !ok {
		return model.ConcurrencySlot{OriginKey: origin}, nil
	}
	if slot.Current > 0 {
		slot.Current--
	}
	s.slots[origin] = slot
	return copySlot(slot), nil
}

func (s *memStore) GetSlot(ctx context.Context, origin string) (*model.ConcurrencySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[origin]
	if !ok {
		return nil, repository.ErrSlotNotFound
	}
	c := copySlot(slot)
	return &c, nil
}

// attempts

func (s *memStore) ConsumeAttempt(ctx context.Context, userID string, day time.Time, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.attempts[userID]
	switch {
	case !ok:
		row = attemptRow{count: 1, day: day}
	case row.day.Before(day):
		row = attemptRow{count: 1, day: day}
	case row.count < limit:
		row.count++
	default:
		return row.count, false, nil
	}
	s.attempts[userID] = row
	return row.count, true, nil
}

func (s *memStore) GetAttempts(ctx context.Context, userID string) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.attempts[userID]
	return row.count, row.day, nil
}

// ledger

func (s *memStore) AddEarned(ctx context.Context, userID string, amount int64, description string, expiresAt *time.Time) (model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEntryLocked(userID, amount, model.EntryEarned, description, expiresAt), nil
}

func (s *memStore) addEntryLocked(userID string, amount int64, kind model.EntryKind, description string, expiresAt *time.Time) model.LedgerEntry {
	e := model.LedgerEntry{
		ID:          s.id(),
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		EarnedAt:    time.Now(),
		ExpiresAt:   expiresAt,
	}
	s.entries = append(s.entries, e)
	return e
}

func (s *memStore) balanceLocked(userID string, now time.Time) int64 {
	var total int64
	for _, e := range s.entries {
		if e.UserID != userID {
			continue
		}
		switch {
		case e.Kind == model.EntrySpent:
			total -= e.Amount
		case e.Active(now):
			total += e.Amount
		}
	}
	return total
}

func (s *memStore) GetBalance(ctx context.Context, userID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(userID, now), nil
}

func (s *memStore) SpendPoints(ctx context.Context, userID string, amount int64, description string, now time.Time) (model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balanceLocked(userID, now) < amount {
		return model.LedgerEntry{}, repository.ErrInsufficientBalance
	}
	return s.addEntryLocked(userID, amount, model.EntrySpent, description, nil), nil
}

func (s *memStore) GetEntries(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.LedgerEntry
	for i := len(s.entries) - 1; i >= 0 && len(res) < limit; i-- {
		if s.entries[i].UserID == userID {
			res = append(res, s.entries[i])
		}
	}
	return res, nil
}

// catalog and codes

func (s *memStore) addCode(c model.RedeemableCode) model.RedeemableCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	s.codes[c.Code] = c
	return c
}

func (s *memStore) code(code string) model.RedeemableCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[code]
}

func (s *memStore) redemptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redemptions)
}

func (s *memStore) InsertCodes(ctx context.Context, codes []model.RedeemableCode) ([]model.RedeemableCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.insertCodesErrs) > 0 {
		err := s.insertCodesErrs[0]
		s.insertCodesErrs = s.insertCodesErrs[1:]
		return nil, err
	}

	saved := make([]model.RedeemableCode, 0, len(codes))
	for _, c := range codes {
		if _, ok := s.codes[c.Code]; ok {
			return nil, repository.ErrCodeExists
		}
		c.ID = s.id()
		c.CreatedAt = time.Now()
		saved = append(saved, c)
	}
	for _, c := range saved {
		s.codes[c.Code] = c
	}
	return saved, nil
}

func (s *memStore) GetPointsPackage(ctx context.Context, id int64) (*model.PointsPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return nil, repository.ErrPackageNotFound
	}
	return &p, nil
}

func (s *memStore) GetSubscriptionPlan(ctx context.Context, id int64) (*model.SubscriptionPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, repository.ErrPackageNotFound
	}
	return &p, nil
}

func (s *memStore) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, repository.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *memStore) CountRedemptionsSince(ctx context.Context, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.redemptions {
		if !r.RedeemedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// transactions

type memSnapshot struct {
	entries     []model.LedgerEntry
	codes       map[string]model.RedeemableCode
	subs        map[string]model.Subscription
	redemptions []model.RedemptionRecord
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := memSnapshot{
		entries:     append([]model.LedgerEntry(nil), s.entries...),
		codes:       make(map[string]model.RedeemableCode, len(s.codes)),
		subs:        make(map[string]model.Subscription, len(s.subs)),
		redemptions: append([]model.RedemptionRecord(nil), s.redemptions...),
	}
	for k, v := range s.codes {
		snap.codes[k] = v
	}
	for k, v := range s.subs {
		snap.subs[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = snap.entries
	s.codes = snap.codes
	s.subs = snap.subs
	s.redemptions = snap.redemptions
}

func (s *memStore) InRedemptionTx(ctx context.Context, fn func(ctx context.Context, tx repository.RedemptionTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memTx struct {
	s *memStore
}

func (t *memTx) GetCode(ctx context.Context, code string) (*model.RedeemableCode, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	c, ok := t.s.codes[code]
	if !ok {
		return nil, repository.ErrCodeNotFound
	}
	return &c, nil
}

func (t *memTx) ClaimCode(ctx context.Context, id int64) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for k, c := range t.s.codes {
		if c.ID == id {
			if c.IsRedeemed {
				return false, nil
			}
			c.IsRedeemed = true
			t.s.codes[k] = c
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) GetPointsPackage(ctx context.Context, id int64) (*model.PointsPackage, error) {
	return t.s.GetPointsPackage(ctx, id)
}

func (t *memTx) GetSubscriptionPlan(ctx context.Context, id int64) (*model.SubscriptionPlan, error) {
	return t.s.GetSubscriptionPlan(ctx, id)
}

func (t *memTx) LockSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := t.s.GetSubscription(ctx, userID)
	if errors.Is(err, repository.ErrSubscriptionNotFound) {
		return nil, nil
	}
	return sub, err
}

func (t *memTx) SaveSubscription(ctx context.Context, sub model.Subscription) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.subs[sub.UserID] = sub
	return nil
}

func (t *memTx) AddEarned(ctx context.Context, userID string, amount int64, description string, expiresAt *time.Time) (model.LedgerEntry, error) {
	return t.s.AddEarned(ctx, userID, amount, description, expiresAt)
}

func (t *memTx) InsertRedemption(ctx context.Context, rec model.RedemptionRecord) (model.RedemptionRecord, error) {
	if t.s.errInsertRedemption != nil {
		return model.RedemptionRecord{}, t.s.errInsertRedemption
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, r := range t.s.redemptions {
		if r.CodeID == rec.CodeID {
			return model.RedemptionRecord{}, repository.ErrCodeExists
		}
	}
	rec.ID = t.s.id()
	rec.RedeemedAt = time.Now()
	t.s.redemptions = append(t.s.redemptions, rec)
	return rec, nil
}

// clock подменяет часы в тестах.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
