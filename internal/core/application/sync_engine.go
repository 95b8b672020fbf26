package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = 2 * time.Second
)

type SyncEngineConfig struct {
	MaxAttempts uint32
	BackoffBase time.Duration
	// DrainInterval is the period, in seconds, of the background drain. Zero
	// disables it.
	DrainInterval int64
}

// SyncEngine sends outgoing transactions through the offline queue. Rows
// are processed strictly in FIFO order and only one drain runs at a time.
type SyncEngine struct {
	store     domain.OfflineStore
	monitor   ports.ConnectivityMonitor
	ledger    ports.LedgerClient
	builder   ports.TxBuilder
	session   *SessionKeyCache
	scheduler ports.SchedulerService
	metrics   ports.Metrics
	cfg       SyncEngineConfig
	now       func() time.Time

	draining *atomic.Bool

	cancel     context.CancelFunc
	removeTask func()
	events     chan ports.ConnectivityEvent
	wg         *sync.WaitGroup
}

func NewSyncEngine(
	store domain.OfflineStore, monitor ports.ConnectivityMonitor,
	ledger ports.LedgerClient, builder ports.TxBuilder, session *SessionKeyCache,
	scheduler ports.SchedulerService, metrics ports.Metrics, cfg SyncEngineConfig,
) *SyncEngine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if metrics == nil {
		metrics = ports.NewNoopMetrics()
	}
	return &SyncEngine{
		store:     store,
		monitor:   monitor,
		ledger:    ledger,
		builder:   builder,
		session:   session,
		scheduler: scheduler,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
		draining:  &atomic.Bool{},
		wg:        &sync.WaitGroup{},
	}
}

func (s *SyncEngine) WithClock(now func() time.Time) *SyncEngine {
	s.now = now
	return s
}

// Start drains the queue on every transition to online and, if configured,
// periodically.
func (s *SyncEngine) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.events = s.monitor.Subscribe()

	s.wg.Add(1)
	go s.listen(ctx, s.events)

	if s.scheduler != nil && s.cfg.DrainInterval > 0 {
		remove, err := s.scheduler.ScheduleTask(
			s.cfg.DrainInterval, false, func() { s.drainInBackground(ctx) },
		)
		if err != nil {
			s.Stop()
			return err
		}
		s.removeTask = remove
	}
	return nil
}

func (s *SyncEngine) Stop() {
	if s.cancel == nil {
		return
	}
	if s.removeTask != nil {
		s.removeTask()
		s.removeTask = nil
	}
	s.cancel()
	s.monitor.Unsubscribe(s.events)
	s.wg.Wait()
	s.cancel = nil
}

// Submit records the request in the queue and, when online, drains the
// queue right away. The outcome reports what happened to this request.
func (s *SyncEngine) Submit(
	ctx context.Context, req domain.TransactionRequest,
) (*SubmitOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !s.session.IsActive() {
		return nil, domain.ErrExpiredSession
	}

	tx, err := s.store.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	s.metrics.TransactionQueued()
	log.Debugf("queued transaction %s", tx.Id)

	if !s.monitor.IsOnline() {
		return &SubmitOutcome{SubmitQueued, *tx}, nil
	}

	if err := s.Drain(ctx); err != nil {
		if !errors.Is(err, domain.ErrDrainInProgress) {
			log.WithError(err).Warn("drain after submit stopped early")
		}
	}

	current, err := s.store.GetTransaction(ctx, tx.Id)
	if err != nil {
		return nil, err
	}
	outcome := &SubmitOutcome{SubmitQueued, *current}
	switch current.Status {
	case domain.QueuedTxConfirmed:
		outcome.Status = SubmitSent
	case domain.QueuedTxFailed:
		// Rejected right away: the caller gets the error, nothing stays queued.
		outcome.Status = SubmitRejected
		if err := s.store.Remove(ctx, current.Id); err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

// Drain processes the pending rows in FIFO order. It stops at the first row
// still waiting for its backoff or failing transiently, so later rows never
// overtake it. It is a no-op while offline.
func (s *SyncEngine) Drain(ctx context.Context) error {
	if !s.draining.CompareAndSwap(false, true) {
		return domain.ErrDrainInProgress
	}
	defer s.draining.Store(false)

	if !s.monitor.IsOnline() {
		log.Debug("offline, skipping drain")
		return nil
	}
	if !s.session.IsActive() {
		return domain.ErrExpiredSession
	}

	if err := s.reconcile(ctx); err != nil {
		return err
	}

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return err
	}

	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !tx.ReadyAt(s.now()) {
			log.Debugf("transaction %s waits until %s", tx.Id, tx.NextAttemptAt)
			return nil
		}

		next, err := s.process(ctx, tx)
		if err != nil {
			return err
		}
		if !next {
			return nil
		}
	}
	return nil
}

// Reconcile resolves the rows left in submitting state by an interrupted
// drain: those the ledger knows about are confirmed, the others go back to
// pending and are checked again before being signed anew.
func (s *SyncEngine) Reconcile(ctx context.Context) error {
	if !s.draining.CompareAndSwap(false, true) {
		return domain.ErrDrainInProgress
	}
	defer s.draining.Store(false)

	if !s.monitor.IsOnline() {
		return nil
	}
	return s.reconcile(ctx)
}

func (s *SyncEngine) ListTransactions(
	ctx context.Context, status domain.QueuedTxStatus,
) ([]domain.QueuedTransaction, error) {
	return s.store.ListByStatus(ctx, status)
}

func (s *SyncEngine) PruneConfirmed(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.store.PruneConfirmed(ctx, s.now().Add(-olderThan))
}

// Account returns the ledger state of publicKey, refreshing the cached
// snapshot when online. The cached copy, marked stale, is returned when the
// ledger is unreachable.
func (s *SyncEngine) Account(ctx context.Context, publicKey string) (*AccountSnapshot, error) {
	key := snapshotKey(publicKey)

	if s.monitor.IsOnline() {
		account, err := s.ledger.LoadAccount(ctx, publicKey)
		if err == nil {
			snapshot := AccountSnapshot{
				PublicKey: publicKey,
				Sequence:  account.Sequence,
				Balances:  account.Balances,
				UpdatedAt: s.now().Unix(),
			}
			buf, err := json.Marshal(snapshot)
			if err == nil {
				err = s.store.SaveSnapshot(ctx, key, buf)
			}
			if err != nil {
				log.WithError(err).Warn("failed to cache account snapshot")
			}
			return &snapshot, nil
		}
		if !domain.IsRetryable(err) {
			return nil, err
		}
		log.WithError(err).Warn("ledger unreachable, serving cached account")
	}

	buf, err := s.store.LoadSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, fmt.Errorf("%w: no cached account for %s", domain.ErrNotFound, publicKey)
	}
	var snapshot AccountSnapshot
	if err := json.Unmarshal(buf, &snapshot); err != nil {
		return nil, domain.PersistenceError(err)
	}
	snapshot.Stale = true
	return &snapshot, nil
}

func (s *SyncEngine) listen(ctx context.Context, events chan ports.ConnectivityEvent) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event == ports.BecameOnline {
				s.drainInBackground(ctx)
			}
		}
	}
}

func (s *SyncEngine) drainInBackground(ctx context.Context) {
	err := s.Drain(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDrainInProgress),
		errors.Is(err, domain.ErrExpiredSession),
		errors.Is(err, context.Canceled):
		log.WithError(err).Debug("drain skipped")
	default:
		log.WithError(err).Warn("drain failed")
	}
}

func (s *SyncEngine) reconcile(ctx context.Context) error {
	submitting, err := s.store.ListByStatus(ctx, domain.QueuedTxSubmitting)
	if err != nil {
		return err
	}

	for _, tx := range submitting {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(tx.TxHash) > 0 {
			found, err := s.ledger.GetTransaction(ctx, tx.TxHash)
			if err != nil {
				return err
			}
			if found {
				if err := s.markConfirmed(ctx, tx, tx.TxHash); err != nil {
					return err
				}
				continue
			}
		}
		log.Infof("transaction %s outcome unknown, moving back to pending", tx.Id)
		if err := s.store.MarkStatus(ctx, tx.Id, domain.QueuedTxPending, nil); err != nil {
			return err
		}
	}
	return nil
}

// process submits a single row. It returns whether the drain may go on with
// the next row.
func (s *SyncEngine) process(ctx context.Context, tx domain.QueuedTransaction) (bool, error) {
	// A previous attempt may have reached the ledger after all.
	if len(tx.TxHash) > 0 {
		found, err := s.ledger.GetTransaction(ctx, tx.TxHash)
		if err != nil {
			return s.handleFailure(ctx, tx, err)
		}
		if found {
			return true, s.markConfirmed(ctx, tx, tx.TxHash)
		}
	}

	asset, err := domain.ParseAsset(tx.Payload.Asset)
	if err != nil {
		return s.handleFailure(ctx, tx, err)
	}

	publicKey, ok, err := WithKey(s.session, s.builder.PublicKey)
	if !ok {
		return false, domain.ErrExpiredSession
	}
	if err != nil {
		return s.handleFailure(ctx, tx, err)
	}

	account, err := s.ledger.LoadAccount(ctx, publicKey)
	if err != nil {
		return s.handleFailure(ctx, tx, err)
	}
	fee, err := s.ledger.EstimateFee(ctx)
	if err != nil {
		return s.handleFailure(ctx, tx, err)
	}

	params := ports.PaymentParams{
		Destination: tx.Payload.Destination,
		Asset:       asset,
		Amount:      tx.Payload.Amount,
		Memo:        tx.Payload.Memo,
	}
	signed, ok, err := WithKey(s.session, func(secret []byte) (*ports.SignedTx, error) {
		return s.builder.BuildPayment(secret, *account, fee, params)
	})
	if !ok {
		return false, domain.ErrExpiredSession
	}
	if err != nil {
		return s.handleFailure(ctx, tx, err)
	}

	if err := s.store.MarkStatus(
		ctx, tx.Id, domain.QueuedTxSubmitting,
		&domain.StatusUpdate{TxHash: signed.Hash},
	); err != nil {
		return false, err
	}
	tx.TxHash = signed.Hash

	// Once signed, the submission and its bookkeeping run to completion.
	ctx = context.WithoutCancel(ctx)

	result, err := s.ledger.SubmitPayment(ctx, signed.Bytes)
	if err != nil {
		return s.handleFailure(ctx, tx, err)
	}

	hash := result.Hash
	if len(hash) <= 0 {
		hash = signed.Hash
	}
	return true, s.markConfirmed(ctx, tx, hash)
}

func (s *SyncEngine) markConfirmed(
	ctx context.Context, tx domain.QueuedTransaction, hash string,
) error {
	if err := s.store.MarkStatus(
		ctx, tx.Id, domain.QueuedTxConfirmed, &domain.StatusUpdate{TxHash: hash},
	); err != nil {
		return err
	}
	s.metrics.TransactionConfirmed()
	log.Infof("transaction %s confirmed with hash %s", tx.Id, hash)
	return nil
}

// handleFailure records a failed attempt. Transient failures put the row
// back to pending with a backoff, or fail it once attempts are exhausted,
// and stop the drain. Permanent failures fail the row and let the drain go
// on.
func (s *SyncEngine) handleFailure(
	ctx context.Context, tx domain.QueuedTransaction, cause error,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if errors.Is(cause, domain.ErrExpiredSession) {
		return false, cause
	}

	if domain.IsRetryable(cause) {
		attempts := tx.Attempts + 1
		if attempts >= s.cfg.MaxAttempts {
			if err := s.store.MarkStatus(
				ctx, tx.Id, domain.QueuedTxFailed, &domain.StatusUpdate{
					Attempts:  attempts,
					LastError: lastError(cause),
				},
			); err != nil {
				return false, err
			}
			s.metrics.TransactionFailed()
			log.WithError(cause).Warnf(
				"transaction %s failed after %d attempts", tx.Id, attempts,
			)
			return false, nil
		}

		nextAttemptAt := s.now().Add(backoff(s.cfg.BackoffBase, attempts))
		if err := s.store.MarkStatus(
			ctx, tx.Id, domain.QueuedTxPending, &domain.StatusUpdate{
				Attempts:      attempts,
				NextAttemptAt: nextAttemptAt,
				LastError:     lastError(cause),
			},
		); err != nil {
			return false, err
		}
		s.metrics.TransactionRetried()
		log.WithError(cause).Debugf(
			"transaction %s attempt %d failed, retrying after %s",
			tx.Id, attempts, nextAttemptAt,
		)
		return false, nil
	}

	if err := s.store.MarkStatus(
		ctx, tx.Id, domain.QueuedTxFailed, &domain.StatusUpdate{
			LastError: lastError(cause),
		},
	); err != nil {
		return false, err
	}
	s.metrics.TransactionFailed()
	log.WithError(cause).Warnf("transaction %s rejected", tx.Id)
	return true, nil
}
