package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotFound       = errors.New("transaction not found")
	ErrInvalidPayload = errors.New("payload is not serializable")
)

// Status of a simulated transaction. NotFound is only ever returned by
// lookups and is never stored.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusNotFound  Status = "not_found"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

type Transaction struct {
	Hash      string          `json:"hash"`
	Status    Status          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	SettledAt time.Time       `json:"settledAt,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Scheduler arms a one-shot deferred task.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

// Source yields uniform draws in [0, 1). Draws are taken under the simulator
// lock, so implementations need not be safe for concurrent use.
type Source interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return mrand.Float64() }

// Observer is notified once per transaction, right after it settles.
type Observer func(tx Transaction)

type Config struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64
}

func DefaultConfig() Config {
	return Config{
		MinDelay:    5 * time.Second,
		MaxDelay:    10 * time.Second,
		FailureRate: 0.1,
	}
}

func (c Config) Validate() error {
	if c.MinDelay < 0 {
		return fmt.Errorf("min delay must not be negative, got %s", c.MinDelay)
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max delay %s is below min delay %s", c.MaxDelay, c.MinDelay)
	}
	if c.FailureRate < 0 || c.FailureRate > 1 {
		return fmt.Errorf("failure rate must be within [0, 1], got %v", c.FailureRate)
	}
	return nil
}

type Option func(*Simulator)

func WithScheduler(s Scheduler) Option { return func(sim *Simulator) { sim.sched = s } }

// WithSource sets the draw source used for both settle delay jitter and the
// settlement outcome.
func WithSource(src Source) Option { return func(sim *Simulator) { sim.src = src } }

// WithHashReader replaces crypto/rand as the source of hash bytes.
func WithHashReader(r io.Reader) Option { return func(sim *Simulator) { sim.hashes = r } }

func WithLogger(l *zap.Logger) Option { return func(sim *Simulator) { sim.log = l } }

func WithObserver(o Observer) Option {
	return func(sim *Simulator) { sim.observers = append(sim.observers, o) }
}

// WithSubmitObserver registers o to hear about every accepted transaction
// while it is still pending. It always runs before the settlement observers
// of the same transaction.
func WithSubmitObserver(o Observer) Option {
	return func(sim *Simulator) { sim.submitObservers = append(sim.submitObservers, o) }
}

// Simulator stands in for a distributed ledger: Submit hands back a hash
// immediately and the transaction settles later on its own timer.
type Simulator struct {
	cfg       Config
	sched     Scheduler
	src       Source
	hashes    io.Reader
	log       *zap.Logger
	observers []Observer

	submitObservers []Observer

	mu  sync.RWMutex
	txs map[string]*Transaction
}

func NewSimulator(cfg Config, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}
	s := &Simulator{
		cfg:    cfg,
		sched:  timerScheduler{},
		src:    globalSource{},
		hashes: rand.Reader,
		txs:    make(map[string]*Transaction),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s, nil
}

// Submit stores payload as a pending transaction and returns its hash
// without waiting for settlement.
func (s *Simulator) Submit(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	s.mu.Lock()
	hash, err := s.newHashLocked()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	tx := &Transaction{
		Hash:      hash,
		Status:    StatusPending,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}
	s.txs[hash] = tx
	submitted := tx.clone()
	delay := s.delayLocked()
	s.mu.Unlock()

	s.log.Debug("transaction submitted", zap.String("hash", hash), zap.Duration("settle_in", delay))
	for _, o := range s.submitObservers {
		o(submitted)
	}
	s.sched.AfterFunc(delay, func() { s.settle(hash) })
	return hash, nil
}

func (s *Simulator) newHashLocked() (string, error) {
	buf := make([]byte, 20)
	for {
		if _, err := io.ReadFull(s.hashes, buf); err != nil {
			return "", fmt.Errorf("generate transaction hash: %w", err)
		}
		hash := "0x" + hex.EncodeToString(buf)
		if _, taken := s.txs[hash]; !taken {
			return hash, nil
		}
	}
}

func (s *Simulator) delayLocked() time.Duration {
	window := s.cfg.MaxDelay - s.cfg.MinDelay
	return s.cfg.MinDelay + time.Duration(s.src.Float64()*float64(window))
}

// Outcome maps a uniform draw to a terminal status: draws below failureRate fail.
func Outcome(draw, failureRate float64) Status {
	if draw < failureRate {
		return StatusFailed
	}
	return StatusConfirmed
}

func (s *Simulator) settle(hash string) {
	s.mu.Lock()
	tx, ok := s.txs[hash]
	if !ok || tx.Status != StatusPending {
		s.mu.Unlock()
		s.log.Warn("settlement skipped", zap.String("hash", hash), zap.Bool("known", ok))
		return
	}
	tx.Status = Outcome(s.src.Float64(), s.cfg.FailureRate)
	tx.SettledAt = time.Now().UTC()
	settled := tx.clone()
	s.mu.Unlock()

	s.log.Info("transaction settled", zap.String("hash", hash), zap.String("status", string(settled.Status)))
	for _, o := range s.observers {
		o(settled)
	}
}

// Status returns StatusNotFound for hashes that were never submitted.
func (s *Simulator) Status(hash string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[hash]
	if !ok {
		return StatusNotFound
	}
	return tx.Status
}

// Data returns the submitted payload verbatim.
func (s *Simulator) Data(hash string) (json.RawMessage, error) {
	tx, err := s.Transaction(hash)
	if err != nil {
		return nil, err
	}
	return tx.Payload, nil
}

func (s *Simulator) Transaction(hash string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[hash]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return tx.clone(), nil
}

// Counts returns the number of transactions per stored status.
func (s *Simulator) Counts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[Status]int{StatusPending: 0, StatusConfirmed: 0, StatusFailed: 0}
	for _, tx := range s.txs {
		out[tx.Status]++
	}
	return out
}

func (t *Transaction) clone() Transaction {
	c := *t
	c.Payload = append(json.RawMessage(nil), t.Payload...)
	return c
}
