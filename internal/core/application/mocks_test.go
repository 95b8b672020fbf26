package application_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lumenwallet/custody/internal/core/application"
	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
	"github.com/lumenwallet/custody/internal/infrastructure/cypher"
	txbuilder "github.com/lumenwallet/custody/internal/infrastructure/tx-builder"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	network  = "test network"
	password = "password"
)

type mockedUnlocker struct {
	mock.Mock
}

func (m *mockedUnlocker) GetPassword(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)

	var res []byte
	if a := args.Get(0); a != nil {
		res = append([]byte{}, a.([]byte)...)
	}
	return res, args.Error(1)
}

type mockedLocker struct {
	mock.Mock
}

func (m *mockedLocker) TryLock(
	ctx context.Context, key string, ttl time.Duration,
) (func(), bool, error) {
	args := m.Called(ctx, key, ttl)

	var res func()
	if a := args.Get(0); a != nil {
		res = a.(func())
	}
	return res, args.Bool(1), args.Error(2)
}

// fakeLedger applies the payments it receives, checking signatures and
// sequence numbers like the real network does.
type fakeLedger struct {
	lock      sync.Mutex
	sequences map[string]uint64
	applied   map[string]bool
	payments  []txbuilder.PaymentTx
	calls     int

	failures  []error
	submitErr error
	lookupErr error
	onLoad    func()
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		sequences: make(map[string]uint64),
		applied:   make(map[string]bool),
	}
}

func (l *fakeLedger) LoadAccount(_ context.Context, publicKey string) (*ports.Account, error) {
	l.lock.Lock()
	onLoad := l.onLoad
	l.lock.Unlock()
	if onLoad != nil {
		onLoad()
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	return &ports.Account{
		PublicKey: publicKey,
		Sequence:  l.sequences[publicKey],
		Balances:  []ports.Balance{{Asset: domain.NativeAsset, Amount: 1_000_000}},
	}, nil
}

func (l *fakeLedger) SubmitPayment(_ context.Context, signedTx []byte) (*ports.SubmitResult, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.calls++
	if len(l.failures) > 0 {
		err := l.failures[0]
		l.failures = l.failures[1:]
		if err != nil {
			return nil, err
		}
	}
	if l.submitErr != nil {
		return nil, l.submitErr
	}

	envelope, hash, err := txbuilder.DecodeEnvelope(signedTx)
	if err != nil {
		return nil, domain.LedgerPermanentError(err)
	}
	source := envelope.Tx.Source
	if envelope.Tx.Sequence != l.sequences[source]+1 {
		return nil, domain.LedgerTransientError(fmt.Errorf("tx_bad_seq"))
	}
	l.sequences[source]++
	l.applied[hash] = true
	l.payments = append(l.payments, envelope.Tx)
	return &ports.SubmitResult{Hash: hash, LedgerId: uint64(len(l.payments))}, nil
}

func (l *fakeLedger) EstimateFee(context.Context) (uint64, error) {
	return 100, nil
}

func (l *fakeLedger) GetTransaction(_ context.Context, hash string) (bool, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.lookupErr != nil {
		return false, l.lookupErr
	}
	return l.applied[hash], nil
}

func (l *fakeLedger) failNext(errs ...error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.failures = append(l.failures, errs...)
}

func (l *fakeLedger) setSubmitErr(err error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.submitErr = err
}

func (l *fakeLedger) markApplied(hash string) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.applied[hash] = true
}

func (l *fakeLedger) submitCalls() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.calls
}

func (l *fakeLedger) amounts() []uint64 {
	l.lock.Lock()
	defer l.lock.Unlock()

	amounts := make([]uint64, 0, len(l.payments))
	for _, p := range l.payments {
		amounts = append(amounts, p.Amount)
	}
	return amounts
}

type fakeClock struct {
	lock sync.Mutex
	t    time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.t = c.t.Add(d)
}

// fakeScheduler keeps the registered tasks so tests can fire them by hand.
type fakeScheduler struct {
	lock  sync.Mutex
	tasks map[int]func()
	next  int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[int]func())}
}

func (s *fakeScheduler) Start() {}
func (s *fakeScheduler) Stop()  {}

func (s *fakeScheduler) ScheduleTask(
	_ int64, _ bool, task func(),
) (func(), error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	id := s.next
	s.next++
	s.tasks[id] = task
	return func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		delete(s.tasks, id)
	}, nil
}

func (s *fakeScheduler) fire() {
	s.lock.Lock()
	tasks := make([]func(), 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.lock.Unlock()

	for _, task := range tasks {
		task()
	}
}

func (s *fakeScheduler) count() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.tasks)
}

func newCustody(t *testing.T) ports.KeyCustody {
	custody, err := cypher.NewService(cypher.MinIterations)
	require.NoError(t, err)
	return custody
}

func newBuilder(t *testing.T) ports.TxBuilder {
	builder, err := txbuilder.NewTxBuilder(network)
	require.NoError(t, err)
	return builder
}

// newKey returns a fresh secret and its account id.
func newKey(t *testing.T, builder ports.TxBuilder) ([]byte, string) {
	secret, err := builder.GenerateSecret()
	require.NoError(t, err)
	publicKey, err := builder.PublicKey(secret)
	require.NoError(t, err)
	return secret, publicKey
}

// newUnlockedSession returns a session holding a fresh secret, and the
// account id of that secret.
func newUnlockedSession(
	t *testing.T, custody ports.KeyCustody, builder ports.TxBuilder,
	ttl time.Duration,
) (*application.SessionKeyCache, string) {
	secret, publicKey := newKey(t, builder)
	blob, err := custody.Encrypt(secret, []byte(password))
	require.NoError(t, err)

	session := application.NewSessionKeyCache(custody, nil, ttl)
	err = session.Unlock(context.Background(), *blob, []byte(password))
	require.NoError(t, err)
	t.Cleanup(session.Clear)

	return session, publicKey
}
