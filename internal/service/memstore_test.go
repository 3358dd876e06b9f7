package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"loyalty-service/internal/models"
	"loyalty-service/internal/store"
)

// memStore is an in-memory Storage. Row locks are real mutexes held until the
// transaction ends, and writes become visible only on commit.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	balances    map[int64]models.Balance
	txns        []models.Transaction
	codes       []models.SessionCode
	enrollments map[int64]models.Enrollment
	telegram    map[string]int64
	rowLocks    map[string]*sync.Mutex
	txCount     int

	failInsertTransaction error
	failMarkUsed          error
}

func newMemStore() *memStore {
	return &memStore{
		nextID:      1000,
		balances:    make(map[int64]models.Balance),
		enrollments: make(map[int64]models.Enrollment),
		telegram:    make(map[string]int64),
		rowLocks:    make(map[string]*sync.Mutex),
	}
}

func (s *memStore) id() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *memStore) enroll(merchantID, customerMerchantID int64, externalID, telegramID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ext := externalID
	s.enrollments[customerMerchantID] = models.Enrollment{
		CustomerID:         customerMerchantID + 500,
		CustomerMerchantID: customerMerchantID,
		MerchantID:         merchantID,
		MerchantCode:       fmt.Sprintf("M%d", merchantID),
		MerchantName:       fmt.Sprintf("Merchant %d", merchantID),
		ExternalID:         &ext,
	}
	if telegramID != "" {
		s.telegram[telegramID] = customerMerchantID
	}
}

func (s *memStore) seedBalance(customerMerchantID, points int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[customerMerchantID] = models.Balance{
		CustomerMerchantID: customerMerchantID,
		Points:             points,
		Level:              models.DefaultLevel,
		TotalEarned:        points,
	}
}

func (s *memStore) seedCode(sc models.SessionCode) models.SessionCode {
	sc.ID = s.id()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, sc)
	return sc
}

func (s *memStore) balance(customerMerchantID int64) models.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[customerMerchantID]
}

func (s *memStore) transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Transaction(nil), s.txns...)
}

func (s *memStore) allCodes() []models.SessionCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SessionCode(nil), s.codes...)
}

func (s *memStore) transactionsStarted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func (s *memStore) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	s.txCount++
	s.mu.Unlock()

	tx := &memTx{
		s:           s,
		held:        make(map[string]*sync.Mutex),
		balances:    make(map[int64]models.Balance),
		codeUpdates: make(map[int64]models.SessionCode),
		enrollments: make(map[int64]models.Enrollment),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *memStore) GetBalance(ctx context.Context, customerMerchantID int64) (*models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[customerMerchantID]
	if !ok {
		return &models.Balance{CustomerMerchantID: customerMerchantID, Level: models.DefaultLevel}, nil
	}
	return &b, nil
}

func (s *memStore) ListTransactions(ctx context.Context, customerMerchantID int64, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for i := len(s.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if s.txns[i].CustomerMerchantID == customerMerchantID {
			out = append(out, s.txns[i])
		}
	}
	return out, nil
}

func (s *memStore) FindActiveSessionCode(ctx context.Context, merchantID int64, code string, now time.Time) (*models.SessionCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.codes) - 1; i >= 0; i-- {
		sc := s.codes[i]
		if sc.MerchantID == merchantID && sc.Code == code && sc.EffectiveStatus(now) == models.SessionCodeStatusActive {
			return &sc, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) GetEnrollment(ctx context.Context, customerMerchantID int64) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[customerMerchantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (s *memStore) FindTelegramEnrollment(ctx context.Context, telegramID string) (*models.Enrollment, error) {
	s.mu.Lock()
	cmID, ok := s.telegram[telegramID]
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetEnrollment(ctx, cmID)
}

type memTx struct {
	s           *memStore
	held        map[string]*sync.Mutex
	balances    map[int64]models.Balance
	txns        []models.Transaction
	newCodes    []models.SessionCode
	codeUpdates map[int64]models.SessionCode
	enrollments map[int64]models.Enrollment
}

func (t *memTx) lock(key string) {
	if _, ok := t.held[key]; ok {
		return
	}
	t.s.mu.Lock()
	m, ok := t.s.rowLocks[key]
	if !ok {
		m = &sync.Mutex{}
		t.s.rowLocks[key] = m
	}
	t.s.mu.Unlock()

	m.Lock()
	t.held[key] = m
}

func (t *memTx) release() {
	for _, m := range t.held {
		m.Unlock()
	}
	t.held = nil
}

func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, b := range t.balances {
		t.s.balances[id] = b
	}
	t.s.txns = append(t.s.txns, t.txns...)
	for i := range t.s.codes {
		if upd, ok := t.codeUpdates[t.s.codes[i].ID]; ok {
			t.s.codes[i] = upd
		}
	}
	t.s.codes = append(t.s.codes, t.newCodes...)
	for id, e := range t.enrollments {
		t.s.enrollments[id] = e
	}
}

// visibleCodes is committed state overlaid with this transaction's writes
func (t *memTx) visibleCodes() []models.SessionCode {
	t.s.mu.Lock()
	codes := append([]models.SessionCode(nil), t.s.codes...)
	t.s.mu.Unlock()

	for i := range codes {
		if upd, ok := t.codeUpdates[codes[i].ID]; ok {
			codes[i] = upd
		}
	}
	return append(codes, t.newCodes...)
}

func (t *memTx) LockBalance(ctx context.Context, customerMerchantID int64) (*models.Balance, error) {
	t.lock(fmt.Sprintf("balance:%d", customerMerchantID))

	if b, ok := t.balances[customerMerchantID]; ok {
		return &b, nil
	}
	t.s.mu.Lock()
	b, ok := t.s.balances[customerMerchantID]
	t.s.mu.Unlock()
	if !ok {
		b = models.Balance{CustomerMerchantID: customerMerchantID, Level: models.DefaultLevel}
	}
	return &b, nil
}

func (t *memTx) UpdateBalance(ctx context.Context, b *models.Balance) error {
	t.balances[b.CustomerMerchantID] = *b
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if t.s.failInsertTransaction != nil {
		return t.s.failInsertTransaction
	}
	txn.ID = t.s.id()
	t.txns = append(t.txns, *txn)
	return nil
}

func (t *memTx) LockSessionCode(ctx context.Context, merchantID int64, code string) (*models.SessionCode, error) {
	t.lock(fmt.Sprintf("code:%d:%s", merchantID, code))

	var latest *models.SessionCode
	for _, sc := range t.visibleCodes() {
		if sc.MerchantID != merchantID || sc.Code != code {
			continue
		}
		sc := sc
		if latest == nil || sc.CreatedAt.After(latest.CreatedAt) ||
			(sc.CreatedAt.Equal(latest.CreatedAt) && sc.ID > latest.ID) {
			latest = &sc
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (t *memTx) ReserveCodeValue(ctx context.Context, merchantID int64, code string, now time.Time) (bool, error) {
	t.lock(fmt.Sprintf("code:%d:%s", merchantID, code))

	for _, sc := range t.visibleCodes() {
		if sc.MerchantID == merchantID && sc.Code == code &&
			sc.Status == models.SessionCodeStatusActive && sc.ExpiresAt.After(now) {
			return false, nil
		}
	}
	return true, nil
}

func (t *memTx) InsertSessionCode(ctx context.Context, sc *models.SessionCode) error {
	sc.ID = t.s.id()
	t.newCodes = append(t.newCodes, *sc)
	return nil
}

func (t *memTx) MarkSessionCodeUsed(ctx context.Context, id int64, usedAt time.Time) error {
	if t.s.failMarkUsed != nil {
		return t.s.failMarkUsed
	}
	for _, sc := range t.visibleCodes() {
		if sc.ID == id {
			sc.Status = models.SessionCodeStatusUsed
			sc.UsedAt = &usedAt
			t.codeUpdates[id] = sc
			return nil
		}
	}
	return fmt.Errorf("session code %d not found", id)
}

func (t *memTx) GetEnrollment(ctx context.Context, customerMerchantID int64) (*models.Enrollment, error) {
	if e, ok := t.enrollments[customerMerchantID]; ok {
		return &e, nil
	}
	return t.s.GetEnrollment(ctx, customerMerchantID)
}

func (t *memTx) GetOrCreateCustomerMerchant(ctx context.Context, merchantID int64, externalID string, phone *string) (*models.Enrollment, error) {
	t.lock("customer:" + externalID)

	t.s.mu.Lock()
	ids := make([]int64, 0, len(t.s.enrollments))
	for id := range t.s.enrollments {
		ids = append(ids, id)
	}
	t.s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		e, err := t.GetEnrollment(ctx, id)
		if err != nil {
			return nil, err
		}
		if e.MerchantID == merchantID && e.ExternalID != nil && *e.ExternalID == externalID {
			return e, nil
		}
	}

	ext := externalID
	e := models.Enrollment{
		CustomerID:         t.s.id(),
		CustomerMerchantID: t.s.id(),
		MerchantID:         merchantID,
		ExternalID:         &ext,
		Phone:              phone,
	}
	t.enrollments[e.CustomerMerchantID] = e
	return &e, nil
}

func (t *memTx) CustomerMerchantBelongsTo(ctx context.Context, customerMerchantID, merchantID int64) (bool, error) {
	e, err := t.GetEnrollment(ctx, customerMerchantID)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.MerchantID == merchantID, nil
}

func (t *memTx) FindTelegramEnrollment(ctx context.Context, telegramID string) (*models.Enrollment, error) {
	return t.s.FindTelegramEnrollment(ctx, telegramID)
}

// fakeClock is a settable clock shared by the services under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
