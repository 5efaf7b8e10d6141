package storage

import (
	"context"
	"time"

	"contractcore/internal/corerr"
	"contractcore/internal/domain"
	"contractcore/internal/observability"
)

// InstrumentedContractStore decorates a ContractStore with latency and
// error-kind metrics, without changing its Persistence semantics.
type InstrumentedContractStore struct {
	inner   ContractStore
	metrics *observability.Metrics
}

// NewInstrumentedContractStore wraps store to record call latency and
// error kind against m.
func NewInstrumentedContractStore(store ContractStore, m *observability.Metrics) *InstrumentedContractStore {
	return &InstrumentedContractStore{inner: store, metrics: m}
}

func (s *InstrumentedContractStore) observe(operation string, start time.Time, err error) {
	s.metrics.PersistenceLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.PersistenceErrors.WithLabelValues(operation, corerr.Reason(err)).Inc()
	}
}

func (s *InstrumentedContractStore) GetContract(ctx context.Context, id int64) (*domain.Contract, error) {
	start := time.Now()
	c, err := s.inner.GetContract(ctx, id)
	s.observe("get_contract", start, err)
	return c, err
}

func (s *InstrumentedContractStore) ListPendingContracts(ctx context.Context) ([]*domain.Contract, error) {
	start := time.Now()
	cs, err := s.inner.ListPendingContracts(ctx)
	s.observe("list_pending_contracts", start, err)
	return cs, err
}

func (s *InstrumentedContractStore) MarkContractCompleted(ctx context.Context, id int64, reason domain.CompletionReason, at time.Time) error {
	start := time.Now()
	err := s.inner.MarkContractCompleted(ctx, id, reason, at)
	s.observe("mark_contract_completed", start, err)
	return err
}

// InstrumentedUserContractStore decorates a UserContractStore the same way.
type InstrumentedUserContractStore struct {
	inner   UserContractStore
	metrics *observability.Metrics
}

// NewInstrumentedUserContractStore wraps store to record call latency and
// error kind against m.
func NewInstrumentedUserContractStore(store UserContractStore, m *observability.Metrics) *InstrumentedUserContractStore {
	return &InstrumentedUserContractStore{inner: store, metrics: m}
}

func (s *InstrumentedUserContractStore) observe(operation string, start time.Time, err error) {
	s.metrics.PersistenceLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.PersistenceErrors.WithLabelValues(operation, corerr.Reason(err)).Inc()
	}
}

func (s *InstrumentedUserContractStore) GetUserContract(ctx context.Context, contractID int64, addr string) (*domain.UserContract, error) {
	start := time.Now()
	uc, err := s.inner.GetUserContract(ctx, contractID, addr)
	s.observe("get_user_contract", start, err)
	return uc, err
}

func (s *InstrumentedUserContractStore) ListUserContractsByContract(ctx context.Context, contractID int64) ([]*domain.UserContract, error) {
	start := time.Now()
	ucs, err := s.inner.ListUserContractsByContract(ctx, contractID)
	s.observe("list_user_contracts_by_contract", start, err)
	return ucs, err
}

func (s *InstrumentedUserContractStore) CreateUserContract(ctx context.Context, row *domain.UserContract) error {
	start := time.Now()
	err := s.inner.CreateUserContract(ctx, row)
	s.observe("create_user_contract", start, err)
	return err
}

func (s *InstrumentedUserContractStore) UpdateUserContractStatus(ctx context.Context, contractID int64, addr string, status domain.UserContractStatus) error {
	start := time.Now()
	err := s.inner.UpdateUserContractStatus(ctx, contractID, addr, status)
	s.observe("update_user_contract_status", start, err)
	return err
}

func (s *InstrumentedUserContractStore) BulkUpdateStatus(ctx context.Context, contractID int64, from, to domain.UserContractStatus) (int, error) {
	start := time.Now()
	n, err := s.inner.BulkUpdateStatus(ctx, contractID, from, to)
	s.observe("bulk_update_status", start, err)
	return n, err
}

// InstrumentedUserStore decorates a UserStore the same way.
type InstrumentedUserStore struct {
	inner   UserStore
	metrics *observability.Metrics
}

// NewInstrumentedUserStore wraps store to record call latency and error
// kind against m.
func NewInstrumentedUserStore(store UserStore, m *observability.Metrics) *InstrumentedUserStore {
	return &InstrumentedUserStore{inner: store, metrics: m}
}

func (s *InstrumentedUserStore) observe(operation string, start time.Time, err error) {
	s.metrics.PersistenceLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.PersistenceErrors.WithLabelValues(operation, corerr.Reason(err)).Inc()
	}
}

func (s *InstrumentedUserStore) GetUser(ctx context.Context, addr string) (*domain.User, error) {
	start := time.Now()
	u, err := s.inner.GetUser(ctx, addr)
	s.observe("get_user", start, err)
	return u, err
}

func (s *InstrumentedUserStore) UpsertUser(ctx context.Context, addr string) (*domain.User, error) {
	start := time.Now()
	u, err := s.inner.UpsertUser(ctx, addr)
	s.observe("upsert_user", start, err)
	return u, err
}

func (s *InstrumentedUserStore) UpdateUserScore(ctx context.Context, addr string, delta float64) (*domain.User, error) {
	start := time.Now()
	u, err := s.inner.UpdateUserScore(ctx, addr, delta)
	s.observe("update_user_score", start, err)
	return u, err
}

var (
	_ ContractStore     = (*InstrumentedContractStore)(nil)
	_ UserContractStore = (*InstrumentedUserContractStore)(nil)
	_ UserStore         = (*InstrumentedUserStore)(nil)
)
