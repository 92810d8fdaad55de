// Package events publishes ledger settlements and report activity to
// downstream consumers.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"crimewatch/internal/core"
	"crimewatch/internal/ledger"
	"crimewatch/internal/verification"
)

const (
	KindSettled   = "transaction.settled"
	KindSubmitted = "report.submitted"
	KindVerified  = "report.verified"
)

type Event struct {
	Kind     string    `json:"kind"`
	Hash     string    `json:"hash,omitempty"`
	Status   string    `json:"status,omitempty"`
	ReportID string    `json:"reportId,omitempty"`
	Type     string    `json:"type,omitempty"`
	Count    int       `json:"count,omitempty"`
	Tier     string    `json:"tier,omitempty"`
	At       time.Time `json:"at"`
}

// Key groups events of the same report or transaction.
func (e Event) Key() string {
	if e.ReportID != "" {
		return e.ReportID
	}
	return e.Hash
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Notifier turns domain callbacks into published events. Publish failures
// are logged and swallowed.
type Notifier struct {
	pub     Publisher
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewNotifier(pub Publisher, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{pub: pub, log: log, timeout: 5 * time.Second, now: time.Now}
}

func (n *Notifier) publish(e Event) {
	e.At = n.now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.pub.Publish(ctx, e); err != nil {
		n.log.Warn("event not published", zap.String("kind", e.Kind), zap.String("key", e.Key()), zap.Error(err))
	}
}

// Settled has the shape of a ledger.Observer.
func (n *Notifier) Settled(tx ledger.Transaction) {
	n.publish(Event{Kind: KindSettled, Hash: tx.Hash, Status: string(tx.Status)})
}

func (n *Notifier) ReportSubmitted(r *core.Report) {
	n.publish(Event{Kind: KindSubmitted, ReportID: r.ID, Hash: r.TxHash, Type: string(r.Type)})
}

func (n *Notifier) ReportVerified(res verification.Result) {
	if res.AlreadyVerified {
		return
	}
	n.publish(Event{Kind: KindVerified, ReportID: res.ReportID, Count: res.Count, Tier: res.Tier.String()})
}
