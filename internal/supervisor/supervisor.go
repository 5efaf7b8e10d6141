// Package supervisor owns the registry of live contract streams: starting,
// stopping, restarting, and bulk-starting them, wiring each Evaluator's
// terminal transitions into the Scoring Engine, and watching the Feed
// Client for the unrecoverable failure that ends the process's readiness.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"contractcore/internal/corerr"
	"contractcore/internal/domain"
	"contractcore/internal/evaluator"
	"contractcore/internal/observability"
	"contractcore/internal/scoring"
	"contractcore/internal/storage"
)

// ErrAlreadyActive is returned by Start when a stream for the contract is
// already running.
var ErrAlreadyActive = errors.New("supervisor: contract already active")

// ErrNotActive is returned by Stop when no stream is running for the
// contract. Restart does not return it: with nothing to stop, it goes on to
// start the stream.
var ErrNotActive = errors.New("supervisor: contract not active")

// ErrNoSigners is returned by Start when the contract has no UserContracts
// to track.
var ErrNoSigners = errors.New("supervisor: contract has no signers")

// ErrDeadlinePassed is returned by Start when condition2 is already in the
// past.
var ErrDeadlinePassed = errors.New("supervisor: condition2 already elapsed")

// FeedClient is the narrow capability the Supervisor needs from the
// Upstream Feed Client.
type FeedClient interface {
	Subscribe(mint string) (<-chan domain.TradeEvent, error)
	Unsubscribe(mint string) error

	// Fatal returns a channel closed once the feed has exhausted its
	// reconnect budget and every subscription is permanently dead.
	Fatal() <-chan struct{}
}

type runningStream struct {
	evaluator *evaluator.Evaluator
	mint      string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Supervisor holds the authoritative contract_id -> ActiveStream registry.
// All map mutations happen inside mu (§5 ownership boundaries).
type Supervisor struct {
	mu            sync.Mutex
	active        map[int64]*runningStream
	feed          FeedClient
	contracts     storage.ContractStore
	userContracts storage.UserContractStore
	users         storage.UserStore
	priceOracle   evaluator.PriceOracle
	balanceOracle evaluator.BalanceOracle
	logger        *log.Logger
	cfg           Config
	evalCfg       evaluator.Config
	metrics       *observability.Metrics
	ready         atomic.Bool
}

// SetMetrics attaches a Metrics instance; nil is safe and disables
// recording. Call before StartAllPending so no stream starts unrecorded.
func (s *Supervisor) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// SetEvaluatorConfig overrides the Config each new Evaluator is built with;
// call before Start/StartAllPending.
func (s *Supervisor) SetEvaluatorConfig(cfg evaluator.Config) {
	s.evalCfg = cfg
}

// New builds a Supervisor. It does not start any streams; call
// StartAllPending explicitly.
func New(
	feed FeedClient,
	contracts storage.ContractStore,
	userContracts storage.UserContractStore,
	users storage.UserStore,
	priceOracle evaluator.PriceOracle,
	balanceOracle evaluator.BalanceOracle,
	logger *log.Logger,
	cfg Config,
) *Supervisor {
	if logger == nil {
		logger = log.New(log.Writer(), "[supervisor] ", log.LstdFlags|log.Lshortfile)
	}
	s := &Supervisor{
		active:        make(map[int64]*runningStream),
		feed:          feed,
		contracts:     contracts,
		userContracts: userContracts,
		users:         users,
		priceOracle:   priceOracle,
		balanceOracle: balanceOracle,
		evalCfg:       evaluator.DefaultConfig(),
		logger:        logger,
		cfg:           cfg,
	}
	s.ready.Store(true)
	return s
}

// Ready reports whether the feed connection is intact. It flips to false,
// permanently, once WatchFeed observes the feed client's fatal signal.
func (s *Supervisor) Ready() bool {
	return s.ready.Load()
}

// WatchFeed blocks until the Feed Client declares an unrecoverable failure
// (reconnect budget exhausted) or ctx is cancelled. On a fatal failure it
// stops every active stream and flips Ready to false; callers run this in
// its own goroutine for the lifetime of the process.
func (s *Supervisor) WatchFeed(ctx context.Context) {
	select {
	case <-s.feed.Fatal():
		s.logger.Printf("feed client reported unrecoverable failure, stopping all streams")
		s.ready.Store(false)
		s.StopAll(context.Background())
	case <-ctx.Done():
	}
}

// Start launches a stream for contractID. Idempotent: returns
// ErrAlreadyActive if one is already running.
func (s *Supervisor) Start(ctx context.Context, contractID int64) error {
	s.mu.Lock()
	if _, ok := s.active[contractID]; ok {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.mu.Unlock()

	delay := s.cfg.BaseRetryDelay
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxStartRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := s.startOnce(ctx, contractID); err != nil {
			if errors.Is(err, ErrAlreadyActive) || errors.Is(err, ErrNoSigners) || errors.Is(err, ErrDeadlinePassed) || errors.Is(err, corerr.NotFound) {
				return err // not retryable: caller-visible, permanent for this contract
			}
			lastErr = err
			if s.metrics != nil {
				s.metrics.StreamStartRetries.Inc()
			}
			s.logger.Printf("start(%d) attempt %d/%d failed: %v", contractID, attempt+1, s.cfg.MaxStartRetries+1, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("start(%d) exhausted retries: %w", contractID, lastErr)
}

func (s *Supervisor) startOnce(ctx context.Context, contractID int64) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	contract, err := s.contracts.GetContract(opCtx, contractID)
	if err != nil {
		return err
	}
	if contract.IsCompleted {
		return fmt.Errorf("contract %d already completed: %w", contractID, corerr.Conflict)
	}
	if !contract.Condition2.After(time.Now()) {
		return ErrDeadlinePassed
	}

	ucs, err := s.userContracts.ListUserContractsByContract(opCtx, contractID)
	if err != nil {
		return err
	}
	signers := make(map[string]struct{})
	for _, uc := range ucs {
		if uc.Status == domain.StatusInProgress {
			signers[uc.UserAddress] = struct{}{}
		}
	}
	if len(signers) == 0 {
		return ErrNoSigners
	}

	s.preflightBalanceSweep(ctx, contract.Mint, ucs)

	events, err := s.feed.Subscribe(contract.Mint)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", contract.Mint, err)
	}

	stream := &domain.ActiveStream{
		ContractID: contractID,
		Mint:       contract.Mint,
		StartedAt:  time.Now(),
		Signers:    signers,
		Condition1: contract.Condition1,
		Condition2: contract.Condition2,
		State:      domain.StreamRunning,
	}

	streamCtx, streamCancel := context.WithCancel(context.Background())
	eval := evaluator.New(
		stream, events, s.contracts, s.userContracts,
		s.priceOracle, s.balanceOracle,
		s.scoreTransition,
		log.New(s.logger.Writer(), fmt.Sprintf("[evaluator:%d] ", contractID), log.LstdFlags),
		s.evalCfg,
	)

	eval.SetMetrics(s.metrics)

	rs := &runningStream{evaluator: eval, mint: contract.Mint, cancel: streamCancel, done: make(chan struct{})}

	s.mu.Lock()
	if _, exists := s.active[contractID]; exists {
		s.mu.Unlock()
		streamCancel()
		return ErrAlreadyActive
	}
	s.active[contractID] = rs
	s.mu.Unlock()

	go func() {
		defer close(rs.done)
		finalState, err := eval.Run(streamCtx)
		if err != nil {
			s.logger.Printf("stream %d ended with error: %v", contractID, err)
		}
		s.deregister(contractID, finalState)
	}()

	if s.metrics != nil {
		s.metrics.StreamsStarted.Inc()
		s.metrics.StreamsActive.Set(float64(s.activeCount()))
	}

	return nil
}

func (s *Supervisor) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// preflightBalanceSweep queries the live on-chain balance for every
// in-progress signer at start time and logs signers who are already short
// of their committed supply. It never blocks the start or mutates any
// UserContract: the Evaluator remains the sole writer of break status,
// decided per-event from the wire balance per §4.D step 5. This is purely
// an early-warning diagnostic for signers who broke their commitment before
// the stream was (re)started, e.g. after a restart or a missed upstream event.
func (s *Supervisor) preflightBalanceSweep(ctx context.Context, mint string, ucs []*domain.UserContract) {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, uc := range ucs {
		if uc.Status != domain.StatusInProgress {
			continue
		}
		wg.Add(1)
		go func(uc *domain.UserContract) {
			defer wg.Done()
			result := s.balanceOracle.CheckBalance(opCtx, mint, uc.UserAddress, uc.Supply)
			if !result.OK {
				s.logger.Printf("preflight balance check for %s on contract %d failed: %v", uc.UserAddress, uc.ContractID, result.Err)
				return
			}
			if !result.HasEnough {
				s.logger.Printf("preflight: signer %s on contract %d already short of committed supply (actual=%v required=%v)", uc.UserAddress, uc.ContractID, result.Actual, result.Required)
			}
		}(uc)
	}
	wg.Wait()
}

// deregister removes a finished stream from the registry and unsubscribes
// its mint. Safe to call more than once for the same contract.
func (s *Supervisor) deregister(contractID int64, finalState domain.StreamState) {
	s.mu.Lock()
	rs, ok := s.active[contractID]
	if ok {
		delete(s.active, contractID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := s.feed.Unsubscribe(rs.mint); err != nil {
		s.logger.Printf("unsubscribe %s after stream %d %v: %v", rs.mint, contractID, finalState, err)
	}
	if s.metrics != nil {
		s.metrics.StreamsStopped.WithLabelValues(finalState.String()).Inc()
		s.metrics.StreamsActive.Set(float64(s.activeCount()))
		if reason, completed := completionReasonFor(finalState); completed {
			s.metrics.ContractCompletions.WithLabelValues(string(reason)).Inc()
		}
	}
}

func completionReasonFor(state domain.StreamState) (domain.CompletionReason, bool) {
	switch state {
	case domain.StreamCompletedC1:
		return domain.ReasonMarketCap, true
	case domain.StreamCompletedC2:
		return domain.ReasonTimeExpired, true
	case domain.StreamCompletedAllBroken:
		return domain.ReasonAllBroken, true
	default:
		return "", false
	}
}

// Stop idempotently tears down the stream for contractID. Returns
// ErrNotActive if nothing is running.
func (s *Supervisor) Stop(ctx context.Context, contractID int64) error {
	s.mu.Lock()
	rs, ok := s.active[contractID]
	s.mu.Unlock()
	if !ok {
		return ErrNotActive
	}

	rs.cancel()

	select {
	case <-rs.done:
	case <-time.After(s.cfg.StopGrace):
		s.logger.Printf("stream %d did not stop within grace period, forcing deregister", contractID)
		s.deregister(contractID, domain.StreamStopped)
	}
	return nil
}

// Restart stops then starts a stream, guaranteeing a fresh ath=0 and a
// minimum RestartGap between the two.
func (s *Supervisor) Restart(ctx context.Context, contractID int64) error {
	if err := s.Stop(ctx, contractID); err != nil && !errors.Is(err, ErrNotActive) {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.RestartGap):
	}
	return s.Start(ctx, contractID)
}

// StartAllPending enumerates pending contracts and starts each with a
// stagger of min(StaggerBase*index, StaggerMax), indexed by enumeration
// position. Contracts whose deadline already elapsed are skipped.
func (s *Supervisor) StartAllPending(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	pending, err := s.contracts.ListPendingContracts(opCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("list pending contracts: %w", err)
	}

	var wg sync.WaitGroup
	for i, contract := range pending {
		if !contract.Condition2.After(time.Now()) {
			s.logger.Printf("skipping contract %d: deadline already elapsed", contract.ID)
			continue
		}

		delay := time.Duration(i) * s.cfg.StaggerBase
		if delay > s.cfg.StaggerMax {
			delay = s.cfg.StaggerMax
		}

		wg.Add(1)
		go func(id int64, delay time.Duration) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if err := s.Start(ctx, id); err != nil {
				s.logger.Printf("start_all_pending: contract %d failed to start: %v", id, err)
			}
		}(contract.ID, delay)
	}
	wg.Wait()
	return nil
}

// StopAll stops every active stream in parallel and waits for completion.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := s.Stop(ctx, id); err != nil {
				s.logger.Printf("stop_all: contract %d: %v", id, err)
			}
		}(id)
	}
	wg.Wait()
}

// ListActive returns a snapshot of every running stream.
func (s *Supervisor) ListActive() []domain.Snapshot {
	s.mu.Lock()
	streams := make([]*runningStream, 0, len(s.active))
	for _, rs := range s.active {
		streams = append(streams, rs)
	}
	s.mu.Unlock()

	snapshots := make([]domain.Snapshot, 0, len(streams))
	for _, rs := range streams {
		snapshots = append(snapshots, rs.evaluator.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].ContractID < snapshots[j].ContractID })
	return snapshots
}

// Get returns the snapshot for a single active contract.
func (s *Supervisor) Get(contractID int64) (domain.Snapshot, bool) {
	s.mu.Lock()
	rs, ok := s.active[contractID]
	s.mu.Unlock()
	if !ok {
		return domain.Snapshot{}, false
	}
	return rs.evaluator.Snapshot(), true
}

// IsActive reports whether a stream is currently registered for contractID.
func (s *Supervisor) IsActive(contractID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[contractID]
	return ok
}

// ContractCreatedNotifier is the capability an external host (the excluded
// CRUD layer) uses to auto-start a stream the moment a Contract is created.
type ContractCreatedNotifier interface {
	NotifyContractCreated(ctx context.Context, contractID int64)
}

// NotifyContractCreated launches a stream in the background for a
// newly-created contract. Launch failures do not propagate to the caller;
// they are logged only, per §4.E.
func (s *Supervisor) NotifyContractCreated(ctx context.Context, contractID int64) {
	go func() {
		if err := s.Start(context.Background(), contractID); err != nil {
			s.logger.Printf("auto-start for new contract %d failed: %v", contractID, err)
		}
	}()
}

var _ ContractCreatedNotifier = (*Supervisor)(nil)

// scoreTransition runs the Scoring Engine for one terminal transition and
// persists the resulting raw delta. Called by the Evaluator only after its
// own status-write has already committed (§4.F invocation contract).
func (s *Supervisor) scoreTransition(ctx context.Context, t evaluator.TerminalTransition) {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	// The raw delta does not depend on the user's current total, so it can
	// be computed before the read-modify-write; only the returned display
	// score depends on the post-update total, which UpdateUserScore gives us.
	preview := scoring.Apply(t.Event, time.Now(), 0)

	delay := s.cfg.BaseRetryDelay
	var lastErr error
	for attempt := 0; attempt <= 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
		}
		_, err := s.users.UpdateUserScore(opCtx, t.UserAddress, preview.RawDelta)
		if err == nil {
			if s.metrics != nil {
				s.metrics.ScoreUpdatesApplied.Inc()
			}
			return
		}
		if !errors.Is(err, corerr.Transient) {
			s.logger.Printf("score update for %s on contract %d permanently failed: %v", t.UserAddress, t.ContractID, err)
			if s.metrics != nil {
				s.metrics.ScoreUpdateFailures.Inc()
			}
			return
		}
		lastErr = err
	}
	s.logger.Printf("score update for %s on contract %d exhausted retries: %v", t.UserAddress, t.ContractID, lastErr)
	if s.metrics != nil {
		s.metrics.ScoreUpdateFailures.Inc()
	}
}
