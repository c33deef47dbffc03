package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mkoval/freightops/internal/domain"
)

// fakeAccountStore keeps accounts in memory behind real per-account mutexes so
// transfer tests exercise the same lock-ordering discipline as the row locks
// in production.
type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	locks    map[string]*sync.Mutex
}

func newFakeAccountStore(accounts ...*domain.Account) *fakeAccountStore {
	s := &fakeAccountStore{
		accounts: map[string]*domain.Account{},
		locks:    map[string]*sync.Mutex{},
	}
	for _, a := range accounts {
		s.accounts[a.AccountNumber] = a
		s.locks[a.AccountNumber] = &sync.Mutex{}
	}
	return s
}

type fakeAccountTx struct {
	store *fakeAccountStore
	held  []*sync.Mutex
}

func (s *fakeAccountStore) InTx(ctx context.Context, fn func(AccountTx) error) error {
	tx := &fakeAccountTx{store: s}
	err := fn(tx)
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].Unlock()
	}
	return err
}

func (t *fakeAccountTx) LockAccount(ctx context.Context, number string) (*domain.Account, error) {
	t.store.mu.Lock()
	lock, ok := t.store.locks[number]
	t.store.mu.Unlock()
	if !ok {
		return nil, ErrAccountNotFound
	}

	lock.Lock()
	t.held = append(t.held, lock)

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	copied := *t.store.accounts[number]
	return &copied, nil
}

func (t *fakeAccountTx) Withdraw(ctx context.Context, number string, amount decimal.Decimal) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	acc, ok := t.store.accounts[number]
	if !ok {
		return false, ErrAccountNotFound
	}
	if acc.Balance.LessThan(amount) {
		return false, nil
	}
	acc.Balance = acc.Balance.Sub(amount)
	return true, nil
}

func (t *fakeAccountTx) Deposit(ctx context.Context, number string, amount decimal.Decimal) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	acc, ok := t.store.accounts[number]
	if !ok {
		return ErrAccountNotFound
	}
	acc.Balance = acc.Balance.Add(amount)
	return nil
}

func (t *fakeAccountTx) InsertAccount(ctx context.Context, a *domain.Account) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, exists := t.store.accounts[a.AccountNumber]; exists {
		return fmt.Errorf("duplicate account number %s", a.AccountNumber)
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	copied := *a
	t.store.accounts[a.AccountNumber] = &copied
	t.store.locks[a.AccountNumber] = &sync.Mutex{}
	return nil
}

func (t *fakeAccountTx) ClearPrimary(ctx context.Context, taxID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, acc := range t.store.accounts {
		if acc.TaxID == taxID {
			acc.IsPrimary = false
		}
	}
	return nil
}

func (s *fakeAccountStore) GetAccount(ctx context.Context, number string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[number]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *acc
	return &copied, nil
}

func (s *fakeAccountStore) AccountsByTaxID(ctx context.Context, taxID string) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Account
	for _, acc := range s.accounts {
		if acc.TaxID == taxID {
			out = append(out, *acc)
		}
	}
	return out, nil
}

func (s *fakeAccountStore) PlatformAccount(ctx context.Context) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.IsPlatform {
			copied := *acc
			return &copied, nil
		}
	}
	return nil, ErrNoPlatformAccount
}

func (s *fakeAccountStore) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accounts[number]
	return ok, nil
}

// fakeLockStore mimics the set-if-absent semantics of the Lock Store. failAll
// simulates an outage.
type fakeLockStore struct {
	mu      sync.Mutex
	keys    map[string]string
	failAll bool

	acquires int
	releases int
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{keys: map[string]string{}}
}

func (l *fakeLockStore) Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAll {
		return false, fmt.Errorf("connection refused")
	}
	l.acquires++
	if _, held := l.keys[key]; held {
		return false, nil
	}
	l.keys[key] = value
	return true, nil
}

func (l *fakeLockStore) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAll {
		return fmt.Errorf("connection refused")
	}
	l.releases++
	delete(l.keys, key)
	return nil
}

func (l *fakeLockStore) Held(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAll {
		return false, fmt.Errorf("connection refused")
	}
	_, held := l.keys[key]
	return held, nil
}

// fakeWagonStore backs reservation and sweeper tests.
type fakeWagonStore struct {
	mu        sync.Mutex
	wagons    map[uuid.UUID]*domain.Wagon
	schedules []domain.Schedule
	conflicts map[uuid.UUID]bool

	reserveErr error
}

func newFakeWagonStore(wagons ...*domain.Wagon) *fakeWagonStore {
	s := &fakeWagonStore{
		wagons:    map[uuid.UUID]*domain.Wagon{},
		conflicts: map[uuid.UUID]bool{},
	}
	for _, w := range wagons {
		s.wagons[w.ID] = w
	}
	return s
}

func (s *fakeWagonStore) GetWagon(ctx context.Context, id uuid.UUID) (*domain.Wagon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wagons[id]
	if !ok {
		return nil, ErrWagonNotFound
	}
	copied := *w
	return &copied, nil
}

func (s *fakeWagonStore) ReserveWagon(ctx context.Context, sched domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserveErr != nil {
		return s.reserveErr
	}
	w, ok := s.wagons[sched.WagonID]
	if !ok {
		return ErrWagonNotFound
	}
	if w.Status != domain.WagonFree {
		return fmt.Errorf("%w: status is %s", ErrWagonNotFree, w.Status)
	}
	w.Status = domain.WagonReserved
	sched.ID = uuid.New()
	sched.CreatedAt = time.Now()
	s.schedules = append(s.schedules, sched)
	return nil
}

func (s *fakeWagonStore) ReleaseWagon(ctx context.Context, wagonID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wagons[wagonID]
	if !ok {
		return ErrWagonNotFound
	}
	w.Status = domain.WagonFree
	for i := range s.schedules {
		if s.schedules[i].WagonID == wagonID && s.schedules[i].Status == domain.ScheduleReserved {
			s.schedules[i].Status = domain.ScheduleCancelled
		}
	}
	return nil
}

func (s *fakeWagonStore) FindAvailable(ctx context.Context, station string, weightKg, volumeM3 int) ([]domain.Wagon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Wagon
	for _, w := range s.wagons {
		if w.Status == domain.WagonFree && w.CurrentStation == station &&
			w.MaxWeightKg >= weightKg && w.MaxVolumeM3 >= volumeM3 {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *fakeWagonStore) FindAvailableElsewhere(ctx context.Context, excludeStation string, weightKg, volumeM3, limit int) ([]domain.Wagon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Wagon
	for _, w := range s.wagons {
		if len(out) >= limit {
			break
		}
		if w.Status == domain.WagonFree && w.CurrentStation != excludeStation &&
			w.MaxWeightKg >= weightKg && w.MaxVolumeM3 >= volumeM3 {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *fakeWagonStore) HasScheduleConflict(ctx context.Context, wagonID uuid.UUID, from, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflicts[wagonID], nil
}

func (s *fakeWagonStore) StaleReservations(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []domain.Schedule
	for _, sched := range s.schedules {
		if sched.Status == domain.ScheduleReserved && sched.CreatedAt.Add(sched.TTL).Before(now) {
			stale = append(stale, sched)
		}
	}
	return stale, nil
}

// fakeDistances returns a fixed table; unknown pairs report the default.
type fakeDistances struct {
	table map[string]int
}

func (d *fakeDistances) DistanceKm(ctx context.Context, from, to string) (int, error) {
	if from == to {
		return 0, nil
	}
	if km, ok := d.table[from+"|"+to]; ok {
		return km, nil
	}
	if km, ok := d.table[to+"|"+from]; ok {
		return km, nil
	}
	return 1000, nil
}

type fakeTariffs struct {
	tariff *domain.Tariff
}

func (t *fakeTariffs) TariffFor(ctx context.Context, category domain.WagonCategory, cargo domain.CargoType) (*domain.Tariff, error) {
	if t.tariff == nil {
		return nil, ErrNoTariff
	}
	return t.tariff, nil
}

// fakePaymentStore backs payment processor tests. orders lets the
// transactional surface flip order statuses atomically with payment writes.
type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*domain.Payment
	orders   *fakeOrderStore

	createErr error
	updateErr error
}

func newFakePaymentStore(payments ...*domain.Payment) *fakePaymentStore {
	s := &fakePaymentStore{payments: map[uuid.UUID]*domain.Payment{}}
	for _, p := range payments {
		s.payments[p.ID] = p
	}
	return s
}

// fakePaymentTx buffers writes and applies them only when the whole unit
// succeeds, mirroring transaction rollback.
type fakePaymentTx struct {
	store    *fakePaymentStore
	payments []*domain.Payment
	statuses map[uuid.UUID]domain.OrderStatus
}

func (s *fakePaymentStore) InPaymentTx(ctx context.Context, fn func(PaymentTx) error) error {
	tx := &fakePaymentTx{store: s, statuses: map[uuid.UUID]domain.OrderStatus{}}
	if err := fn(tx); err != nil {
		return err
	}
	for _, p := range tx.payments {
		copied := *p
		s.mu.Lock()
		s.payments[p.ID] = &copied
		s.mu.Unlock()
	}
	for id, status := range tx.statuses {
		if err := s.orders.SetOrderStatus(ctx, id, status); err != nil {
			return err
		}
	}
	return nil
}

func (t *fakePaymentTx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	if t.store.createErr != nil {
		return t.store.createErr
	}
	t.payments = append(t.payments, p)
	return nil
}

func (t *fakePaymentTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	if t.store.updateErr != nil {
		return t.store.updateErr
	}
	t.store.mu.Lock()
	_, ok := t.store.payments[p.ID]
	t.store.mu.Unlock()
	if !ok {
		return ErrPaymentNotFound
	}
	t.payments = append(t.payments, p)
	return nil
}

func (t *fakePaymentTx) SetOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	if _, err := t.store.orders.GetOrder(ctx, id); err != nil {
		return err
	}
	t.statuses[id] = status
	return nil
}

func (s *fakePaymentStore) CreatePayment(ctx context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	s.payments[p.ID] = &copied
	return nil
}

func (s *fakePaymentStore) PaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *fakePaymentStore) PaymentByExternalRef(ctx context.Context, ref string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ExternalRef == ref && ref != "" {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *fakePaymentStore) PendingPaymentByPayer(ctx context.Context, taxID string, amount decimal.Decimal) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.TaxID == taxID && p.Amount.Equal(amount) && p.Status == domain.PaymentPending {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *fakePaymentStore) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	copied := *p
	s.payments[p.ID] = &copied
	return nil
}

func (s *fakePaymentStore) HasActiveDuplicate(ctx context.Context, taxID string, amount decimal.Decimal, purpose string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.TaxID == taxID && p.Amount.Equal(amount) && p.Purpose == purpose &&
			(p.Status == domain.PaymentPending || p.Status == domain.PaymentProcessing || p.Status == domain.PaymentSucceeded) {
			return true, nil
		}
	}
	return false, nil
}

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
}

func newFakeOrderStore(orders ...*domain.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: map[uuid.UUID]*domain.Order{}}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrderStore) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	copied := *o
	return &copied, nil
}

func (s *fakeOrderStore) SetOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	return nil
}

type fakeDirectory struct {
	taxID   string
	company string
}

func (d *fakeDirectory) CompanyByUser(ctx context.Context, userID uuid.UUID) (string, string, error) {
	if d.taxID == "" {
		return "", "", fmt.Errorf("user %s not found", userID)
	}
	return d.taxID, d.company, nil
}
