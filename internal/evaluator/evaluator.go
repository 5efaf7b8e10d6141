// Package evaluator implements the per-mint state machine that turns
// TradeEvents into Contract and UserContract transitions.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"contractcore/internal/corerr"
	"contractcore/internal/domain"
	"contractcore/internal/observability"
	"contractcore/internal/oracle"
	"contractcore/internal/scoring"
	"contractcore/internal/storage"
)

// PriceOracle is the narrow capability the Evaluator needs from the SOL
// price oracle.
type PriceOracle interface {
	SolPriceUSD(ctx context.Context) (float64, error)
}

// BalanceOracle is unused by the per-event algorithm itself (breaks are
// decided from the event's own new_token_balance field per §4.D step 5); it
// is threaded through New so the same dependency the Supervisor already
// holds for its preflight balance sweep is available if a future
// reconciliation pass needs to query live balances mid-stream.
type BalanceOracle interface {
	CheckBalance(ctx context.Context, mint, wallet string, requiredAmount float64) oracle.BalanceResult
}

// TerminalTransition describes one user's terminal status change, ready to
// be scored by the caller. The Evaluator emits these only after the
// Persistence write that set the terminal status has already succeeded.
type TerminalTransition struct {
	ContractID  int64
	UserAddress string
	Event       scoring.Event
}

// TransitionFunc receives a terminal transition; the Supervisor supplies
// this to run the Scoring Engine and persist the resulting delta.
type TransitionFunc func(ctx context.Context, t TerminalTransition)

// Config tunes retry and timeout behaviour.
type Config struct {
	// OpTimeout bounds every individual Persistence/Oracle call.
	OpTimeout time.Duration
	// MaxStepRetries bounds retries of steps 3 and 5 on Transient failures.
	MaxStepRetries int
	// StepRetryDelay is the fixed linear backoff between step retries.
	StepRetryDelay time.Duration
}

// DefaultConfig matches the documented defaults in §6/§4.D.
func DefaultConfig() Config {
	return Config{
		OpTimeout:      5 * time.Second,
		MaxStepRetries: 3,
		StepRetryDelay: 200 * time.Millisecond,
	}
}

// Evaluator owns one ActiveStream end to end: it is the only writer of the
// stream's ath_market_cap_sol and the only issuer of that stream's
// completion writes.
type Evaluator struct {
	mu     sync.Mutex
	stream *domain.ActiveStream

	contracts     storage.ContractStore
	userContracts storage.UserContractStore
	priceOracle   PriceOracle
	balanceOracle BalanceOracle

	events <-chan domain.TradeEvent
	onDone TransitionFunc
	logger *log.Logger
	cfg    Config

	metrics *observability.Metrics
}

// SetMetrics attaches a Metrics instance; nil is safe and disables
// recording. Intended to be called once, before Run.
func (e *Evaluator) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// New builds an Evaluator for a freshly started ActiveStream.
func New(
	stream *domain.ActiveStream,
	events <-chan domain.TradeEvent,
	contracts storage.ContractStore,
	userContracts storage.UserContractStore,
	priceOracle PriceOracle,
	balanceOracle BalanceOracle,
	onDone TransitionFunc,
	logger *log.Logger,
	cfg Config,
) *Evaluator {
	if logger == nil {
		logger = log.New(log.Writer(), "[evaluator] ", log.LstdFlags|log.Lshortfile)
	}
	return &Evaluator{
		stream:        stream,
		contracts:     contracts,
		userContracts: userContracts,
		priceOracle:   priceOracle,
		balanceOracle: balanceOracle,
		events:        events,
		onDone:        onDone,
		logger:        logger,
		cfg:           cfg,
	}
}

// Snapshot returns a safe, read-only copy of the underlying stream for
// registry views.
func (e *Evaluator) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream.Snapshot()
}

func (e *Evaluator) setState(s domain.StreamState) {
	e.mu.Lock()
	e.stream.State = s
	e.mu.Unlock()
}

func (e *Evaluator) state() domain.StreamState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream.State
}

// Run drives the state machine until a terminal transition, the events
// channel closes, or ctx is cancelled (an operator stop). It returns the
// final state reached.
func (e *Evaluator) Run(ctx context.Context) (domain.StreamState, error) {
	timer := time.NewTimer(time.Until(e.stream.Condition2))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.setState(domain.StreamStopped)
			return domain.StreamStopped, nil

		case <-timer.C:
			if err := e.closeDeadline(ctx); err != nil {
				e.logger.Printf("contract %d: deadline close failed: %v", e.stream.ContractID, err)
				return e.state(), err
			}
			return e.state(), nil

		case event, ok := <-e.events:
			if !ok {
				e.setState(domain.StreamStopped)
				return domain.StreamStopped, nil
			}

			if e.metrics != nil {
				e.metrics.EventsProcessed.Inc()
			}

			terminal, err := e.handleEvent(ctx, event)
			if err != nil {
				if errors.Is(err, corerr.Fatal) {
					e.logger.Printf("contract %d: fatal error, stopping stream: %v", e.stream.ContractID, err)
					e.setState(domain.StreamStopped)
					return domain.StreamStopped, err
				}
				if e.metrics != nil {
					e.metrics.EventsDropped.WithLabelValues(corerr.Reason(err)).Inc()
				}
				e.logger.Printf("contract %d: dropping event after retries exhausted: %v", e.stream.ContractID, err)
				continue
			}
			if terminal {
				return e.state(), nil
			}
		}
	}
}

// handleEvent runs the six-step per-event algorithm from §4.D.
func (e *Evaluator) handleEvent(ctx context.Context, event domain.TradeEvent) (terminal bool, err error) {
	// Step 1: deadline check on event ingress. C1 is still checked below in
	// the same tick, and wins if it also fires (§4.D tie-break policy).
	deadlinePassed := !time.Now().Before(e.stream.Condition2)

	// Step 2: ATH update, monotone.
	if event.MarketCapSol > e.stream.AthMarketCapSol {
		e.mu.Lock()
		e.stream.AthMarketCapSol = event.MarketCapSol
		e.mu.Unlock()
	}

	// Step 3: C1 check.
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	price, err := e.retryOracle(func() (float64, error) { return e.priceOracle.SolPriceUSD(opCtx) })
	cancel()
	if err != nil && !deadlinePassed {
		return false, fmt.Errorf("sol price lookup: %w", corerr.Transient)
	}

	athUSD := e.stream.AthMarketCapSol * price
	if err == nil && athUSD >= e.stream.Condition1 {
		if err := e.closeC1(ctx, athUSD); err != nil {
			return false, err
		}
		return true, nil
	}

	// C1 did not fire on this event, so an elapsed deadline closes it now.
	if deadlinePassed {
		if err := e.closeDeadline(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	// Step 4: signer filter.
	if _, isSigner := e.stream.Signers[event.Trader]; !isSigner {
		return false, nil
	}

	// Step 5 + 6: break check and all-broken check.
	return e.handleBreak(ctx, event, athUSD)
}

func (e *Evaluator) handleBreak(ctx context.Context, event domain.TradeEvent, athUSD float64) (terminal bool, err error) {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	uc, err := retryPersistence(e, func() (*domain.UserContract, error) {
		return e.userContracts.GetUserContract(opCtx, e.stream.ContractID, event.Trader)
	})
	if err != nil {
		if errors.Is(err, corerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	if uc.Status != domain.StatusInProgress {
		return false, nil
	}
	if !(event.NewTokenBalance < uc.Supply) {
		return false, nil
	}

	_, err = retryPersistence(e, func() (struct{}, error) {
		return struct{}{}, e.userContracts.UpdateUserContractStatus(opCtx, e.stream.ContractID, event.Trader, domain.StatusBroken)
	})
	if err != nil {
		return false, err
	}
	if e.metrics != nil {
		e.metrics.SignerBreaks.Inc()
	}

	// Broken is terminal for this signer regardless of whether the contract
	// as a whole closes now or later (via C1/C2 while other signers remain
	// in progress); score it immediately, per the invocation contract.
	diffPct := (athUSD/e.stream.Condition1 - 1) * 100
	e.onDone(ctx, TerminalTransition{
		ContractID:  e.stream.ContractID,
		UserAddress: uc.UserAddress,
		Event: scoring.Event{
			ContractRespected: false,
			BuyAmount:         uc.Supply,
			DiffWithCondition: diffPct,
			TrueCondition:     scoring.ConditionMarketCap,
			SignedAt:          uc.SignedAt,
		},
	})

	ucs, err := retryPersistence(e, func() ([]*domain.UserContract, error) {
		return e.userContracts.ListUserContractsByContract(opCtx, e.stream.ContractID)
	})
	if err != nil {
		return false, err
	}
	for _, u := range ucs {
		if u.Status == domain.StatusInProgress {
			return false, nil
		}
	}

	if err := e.closeAllBroken(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Evaluator) closeC1(ctx context.Context, athUSD float64) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	contract, err := e.contracts.GetContract(opCtx, e.stream.ContractID)
	if err != nil {
		return fmt.Errorf("re-read contract before C1 close: %w", corerr.Fatal)
	}
	if contract.IsCompleted {
		e.setState(domain.StreamStopped)
		return nil
	}

	ucs, err := e.userContracts.ListUserContractsByContract(opCtx, e.stream.ContractID)
	if err != nil {
		return fmt.Errorf("list user contracts before C1 close: %w", corerr.Fatal)
	}
	var inProgress []*domain.UserContract
	for _, uc := range ucs {
		if uc.Status == domain.StatusInProgress {
			inProgress = append(inProgress, uc)
		}
	}

	if _, err := e.userContracts.BulkUpdateStatus(opCtx, e.stream.ContractID, domain.StatusInProgress, domain.StatusCompletedCondition1); err != nil {
		return fmt.Errorf("bulk update to CompletedCondition1: %w", corerr.Fatal)
	}

	err = e.contracts.MarkContractCompleted(opCtx, e.stream.ContractID, domain.ReasonMarketCap, time.Now())
	if errors.Is(err, corerr.Conflict) {
		e.setState(domain.StreamStopped)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark contract completed (market_cap): %w", corerr.Fatal)
	}

	e.setState(domain.StreamCompletedC1)

	diffPct := (athUSD/e.stream.Condition1 - 1) * 100
	for _, uc := range inProgress {
		e.onDone(ctx, TerminalTransition{
			ContractID:  e.stream.ContractID,
			UserAddress: uc.UserAddress,
			Event: scoring.Event{
				ContractRespected: true,
				BuyAmount:         uc.Supply,
				DiffWithCondition: diffPct,
				TrueCondition:     scoring.ConditionMarketCap,
				SignedAt:          uc.SignedAt,
			},
		})
	}
	return nil
}

func (e *Evaluator) closeDeadline(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	contract, err := e.contracts.GetContract(opCtx, e.stream.ContractID)
	if err != nil {
		return fmt.Errorf("re-read contract before C2 close: %w", corerr.Fatal)
	}
	if contract.IsCompleted {
		e.setState(domain.StreamStopped)
		return nil
	}

	ucs, err := e.userContracts.ListUserContractsByContract(opCtx, e.stream.ContractID)
	if err != nil {
		return fmt.Errorf("list user contracts before C2 close: %w", corerr.Fatal)
	}
	var inProgress []*domain.UserContract
	for _, uc := range ucs {
		if uc.Status == domain.StatusInProgress {
			inProgress = append(inProgress, uc)
		}
	}

	if _, err := e.userContracts.BulkUpdateStatus(opCtx, e.stream.ContractID, domain.StatusInProgress, domain.StatusCompletedCondition2); err != nil {
		return fmt.Errorf("bulk update to CompletedCondition2: %w", corerr.Fatal)
	}

	err = e.contracts.MarkContractCompleted(opCtx, e.stream.ContractID, domain.ReasonTimeExpired, time.Now())
	if errors.Is(err, corerr.Conflict) {
		e.setState(domain.StreamStopped)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark contract completed (time_expired): %w", corerr.Fatal)
	}

	e.setState(domain.StreamCompletedC2)

	for _, uc := range inProgress {
		e.onDone(ctx, TerminalTransition{
			ContractID:  e.stream.ContractID,
			UserAddress: uc.UserAddress,
			Event: scoring.Event{
				TrueCondition: scoring.ConditionDeadline,
				SignedAt:      uc.SignedAt,
			},
		})
	}
	return nil
}

func (e *Evaluator) closeAllBroken(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	contract, err := e.contracts.GetContract(opCtx, e.stream.ContractID)
	if err != nil {
		return fmt.Errorf("re-read contract before all-broken close: %w", corerr.Fatal)
	}
	if contract.IsCompleted {
		e.setState(domain.StreamStopped)
		return nil
	}

	// Every signer here is already Broken and was already scored by
	// handleBreak at the moment its own status write succeeded; this close
	// only needs to fence the Contract row.
	err = e.contracts.MarkContractCompleted(opCtx, e.stream.ContractID, domain.ReasonAllBroken, time.Now())
	if errors.Is(err, corerr.Conflict) {
		e.setState(domain.StreamStopped)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark contract completed (all_broken): %w", corerr.Fatal)
	}

	e.setState(domain.StreamCompletedAllBroken)
	return nil
}

// retryOracle retries an oracle call up to MaxStepRetries times with a
// fixed linear delay; oracle failures carry no kind of their own so every
// failure is treated as Transient per §4.D step 3/5 policy.
func (e *Evaluator) retryOracle(fn func() (float64, error)) (float64, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxStepRetries; attempt++ {
		if attempt > 0 {
			if e.metrics != nil {
				e.metrics.EvaluatorStepRetries.WithLabelValues("oracle").Inc()
			}
			time.Sleep(e.cfg.StepRetryDelay)
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

// retryPersistence retries a Persistence call on Transient failures only;
// NotFound/Conflict/InvalidInput/Fatal are returned immediately.
func retryPersistence[T any](e *Evaluator, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	for attempt := 0; attempt <= e.cfg.MaxStepRetries; attempt++ {
		if attempt > 0 {
			if e.metrics != nil {
				e.metrics.EvaluatorStepRetries.WithLabelValues("persistence").Inc()
			}
			time.Sleep(e.cfg.StepRetryDelay)
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, corerr.Transient) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}
