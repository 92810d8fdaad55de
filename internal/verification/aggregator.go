package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var ErrInvalidArgument = errors.New("report id and actor id are required")

// Store keeps the set of actors that verified each report. AddVerifier must
// insert and count as one step so concurrent verifications of the same
// report never lose an increment.
type Store interface {
	AddVerifier(ctx context.Context, reportID, actorID string) (count int, added bool, err error)
	CountVerifiers(ctx context.Context, reportID string) (int, error)
}

type Result struct {
	ReportID        string `json:"reportId"`
	Count           int    `json:"count"`
	Tier            Tier   `json:"tier"`
	AlreadyVerified bool   `json:"alreadyVerified"`
}

// Aggregator counts distinct-actor corroborations per report. Actors are
// assumed to be authenticated by the caller.
type Aggregator struct {
	store Store
	log   *zap.Logger
}

func NewAggregator(store Store, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{store: store, log: log}
}

// Verify records actorID as a verifier of reportID. A repeat verification by
// the same actor leaves the count unchanged and sets AlreadyVerified.
func (a *Aggregator) Verify(ctx context.Context, reportID, actorID string) (Result, error) {
	reportID, actorID = strings.TrimSpace(reportID), strings.TrimSpace(actorID)
	if reportID == "" || actorID == "" {
		return Result{}, ErrInvalidArgument
	}

	count, added, err := a.store.AddVerifier(ctx, reportID, actorID)
	if err != nil {
		return Result{}, fmt.Errorf("record verification of %s: %w", reportID, err)
	}
	res := Result{
		ReportID:        reportID,
		Count:           count,
		Tier:            TierOf(count),
		AlreadyVerified: !added,
	}
	a.log.Debug("verification recorded",
		zap.String("report", reportID),
		zap.String("actor", actorID),
		zap.Int("count", count),
		zap.Bool("already_verified", res.AlreadyVerified))
	return res, nil
}

// Status returns the current count and tier without mutating anything.
func (a *Aggregator) Status(ctx context.Context, reportID string) (Result, error) {
	if strings.TrimSpace(reportID) == "" {
		return Result{}, ErrInvalidArgument
	}
	count, err := a.store.CountVerifiers(ctx, reportID)
	if err != nil {
		return Result{}, fmt.Errorf("count verifications of %s: %w", reportID, err)
	}
	return Result{ReportID: reportID, Count: count, Tier: TierOf(count)}, nil
}
