package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crimewatch/internal/ledger"
	"crimewatch/internal/verification"
)

var (
	ErrReportNotFound   = errors.New("report not found")
	ErrInvalidReport    = errors.New("invalid report")
	ErrSelfVerification = errors.New("reporters cannot verify their own report")
)

type Ledger interface {
	Submit(payload any) (string, error)
	Status(hash string) ledger.Status
	Data(hash string) (json.RawMessage, error)
}

type Verifier interface {
	Verify(ctx context.Context, reportID, actorID string) (verification.Result, error)
	Status(ctx context.Context, reportID string) (verification.Result, error)
}

type ObjectStorage interface {
	Upload(ctx context.Context, name string, data io.Reader, size int64, contentType string) (path string, err error)
}

type Database interface {
	Save(ctx context.Context, r *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	List(ctx context.Context, f Filter) ([]Report, error)
	UpdateStatus(ctx context.Context, id string, status CrimeStatus) error
}

// Observer hears about accepted submissions and every verification attempt
// that reached the aggregator.
type Observer interface {
	ReportSubmitted(r *Report)
	ReportVerified(res verification.Result)
}

type EvidenceFile struct {
	Name        string
	ContentType string
	Description string
	Data        io.ReadSeeker
	Size        int64
}

type ReportService struct {
	ledger    Ledger
	verifier  Verifier
	storage   ObjectStorage
	db        Database
	log       *zap.Logger
	observers []Observer
	now       func() time.Time
}

func NewReportService(l Ledger, v Verifier, s ObjectStorage, d Database, log *zap.Logger, observers ...Observer) *ReportService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReportService{
		ledger:    l,
		verifier:  v,
		storage:   s,
		db:        d,
		log:       log,
		observers: observers,
		now:       time.Now,
	}
}

type evidenceDigest struct {
	SHA256      string `json:"sha256"`
	FileType    string `json:"fileType"`
	Description string `json:"description,omitempty"`
}

type reportPayload struct {
	ID          string           `json:"id"`
	Type        CrimeType        `json:"type"`
	Description string           `json:"description"`
	Location    Location         `json:"location"`
	Date        string           `json:"date,omitempty"`
	Time        string           `json:"time,omitempty"`
	ReportedBy  string           `json:"reportedBy,omitempty"`
	Evidence    []evidenceDigest `json:"evidence,omitempty"`
}

type emergencyPayload struct {
	Type      string        `json:"type"`
	Report    reportPayload `json:"report"`
	Timestamp int64         `json:"timestamp"`
}

// SubmitReport stores evidence, records the report on the ledger and
// persists it. The returned report is pending until the ledger settles.
func (s *ReportService) SubmitReport(ctx context.Context, in ReportInput, files []EvidenceFile) (*Report, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	r := &Report{
		ID:          uuid.NewString(),
		Type:        in.Type,
		Description: strings.TrimSpace(in.Description),
		Location:    in.Location,
		Date:        in.Date,
		Time:        in.Time,
		Status:      Reported,
		ReportedBy:  in.ReportedBy,
		Anonymous:   in.Anonymous,
	}
	return s.submit(ctx, r, files, func(p reportPayload) any { return p })
}

// SubmitEmergency records an emergency report. The ledger payload is wrapped
// in an EMERGENCY_REPORT envelope.
func (s *ReportService) SubmitEmergency(ctx context.Context, in EmergencyInput, files []EvidenceFile) (*Report, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	loc := in.Coordinates
	loc.Address = strings.TrimSpace(in.Location)
	r := &Report{
		ID:          "ER-" + uuid.NewString(),
		Type:        Emergency,
		Description: strings.TrimSpace(in.Description),
		Location:    loc,
		Status:      Reported,
		ReportedBy:  in.ReportedBy,
		ContactInfo: in.ContactInfo,
	}
	return s.submit(ctx, r, files, func(p reportPayload) any {
		return emergencyPayload{Type: "EMERGENCY_REPORT", Report: p, Timestamp: s.now().UnixMilli()}
	})
}

func (s *ReportService) submit(ctx context.Context, r *Report, files []EvidenceFile, wrap func(reportPayload) any) (*Report, error) {
	for _, f := range files {
		ev, err := s.storeEvidence(ctx, r.ID, f)
		if err != nil {
			return nil, err
		}
		r.Evidence = append(r.Evidence, ev)
	}

	p := reportPayload{
		ID:          r.ID,
		Type:        r.Type,
		Description: r.Description,
		Location:    r.Location,
		Date:        r.Date,
		Time:        r.Time,
	}
	if !r.Anonymous {
		p.ReportedBy = r.ReportedBy
	}
	for _, ev := range r.Evidence {
		p.Evidence = append(p.Evidence, evidenceDigest{SHA256: ev.SHA256, FileType: ev.ContentType, Description: ev.Description})
	}

	start := time.Now()
	txHash, err := s.ledger.Submit(wrap(p))
	if err != nil {
		return nil, fmt.Errorf("ledger submit error: %w", err)
	}
	s.log.Debug("ledger submit", zap.String("report", r.ID), zap.String("tx", txHash), zap.Duration("latency", time.Since(start)))

	r.TxHash = txHash
	r.CreatedAt = s.now().UTC()
	if err := s.db.Save(ctx, r); err != nil {
		paths := make([]string, len(r.Evidence))
		for i, ev := range r.Evidence {
			paths[i] = ev.StoragePath
		}
		s.log.Warn("report not saved, ledger transaction and evidence are orphaned",
			zap.String("report", r.ID),
			zap.String("tx", txHash),
			zap.Strings("evidence", paths),
			zap.Error(err))
		return nil, fmt.Errorf("db save error: %w", err)
	}

	s.log.Info("report submitted",
		zap.String("report", r.ID),
		zap.String("type", string(r.Type)),
		zap.String("tx", txHash),
		zap.Int("evidence", len(r.Evidence)))
	for _, o := range s.observers {
		o.ReportSubmitted(r)
	}
	if err := s.decorate(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *ReportService) storeEvidence(ctx context.Context, reportID string, f EvidenceFile) (Evidence, error) {
	h := sha256.New()
	if _, err := io.Copy(h, f.Data); err != nil {
		return Evidence{}, fmt.Errorf("hashing error: %w", err)
	}
	digest := hex.EncodeToString(h.Sum(nil))
	if _, err := f.Data.Seek(0, io.SeekStart); err != nil {
		return Evidence{}, fmt.Errorf("rewind evidence %s: %w", f.Name, err)
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := path.Join("reports", reportID, digest[:16]+"-"+path.Base(f.Name))
	p, err := s.storage.Upload(ctx, name, f.Data, f.Size, contentType)
	if err != nil {
		return Evidence{}, fmt.Errorf("storage upload error: %w", err)
	}
	return Evidence{
		FileName:    path.Base(f.Name),
		ContentType: contentType,
		Description: f.Description,
		SHA256:      digest,
		Size:        f.Size,
		StoragePath: p,
	}, nil
}

// decorate fills the fields derived from the ledger and the aggregator and
// hides the reporter of anonymous reports.
func (s *ReportService) decorate(ctx context.Context, r *Report) error {
	if r.Anonymous {
		r.ReportedBy = ""
	}
	r.ChainStatus = ChainStatusOf(s.ledger.Status(r.TxHash))
	v, err := s.verifier.Status(ctx, r.ID)
	if err != nil {
		return err
	}
	r.VerificationCount = v.Count
	r.Tier = v.Tier
	return nil
}

func (s *ReportService) GetReport(ctx context.Context, id string) (*Report, error) {
	r, err := s.db.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.decorate(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *ReportService) ListReports(ctx context.Context, f Filter) ([]Report, error) {
	reports, err := s.db.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	for i := range reports {
		if err := s.decorate(ctx, &reports[i]); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func (s *ReportService) UpdateStatus(ctx context.Context, id string, status CrimeStatus) (*Report, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidReport, status)
	}
	if err := s.db.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	return s.GetReport(ctx, id)
}

// VerifyReport adds actorID's corroboration to a report it did not submit.
func (s *ReportService) VerifyReport(ctx context.Context, reportID, actorID string) (verification.Result, error) {
	r, err := s.db.Get(ctx, reportID)
	if err != nil {
		return verification.Result{}, err
	}
	if r.ReportedBy != "" && r.ReportedBy == strings.TrimSpace(actorID) {
		return verification.Result{}, ErrSelfVerification
	}
	res, err := s.verifier.Verify(ctx, reportID, actorID)
	if err != nil {
		return verification.Result{}, err
	}
	for _, o := range s.observers {
		o.ReportVerified(res)
	}
	return res, nil
}

func (s *ReportService) Verifications(ctx context.Context, reportID string) (verification.Result, error) {
	if _, err := s.db.Get(ctx, reportID); err != nil {
		return verification.Result{}, err
	}
	return s.verifier.Status(ctx, reportID)
}

// VerifyEvidence reports whether the report carries evidence with the given
// sha256 digest.
func (s *ReportService) VerifyEvidence(ctx context.Context, reportID, digest string) (bool, error) {
	r, err := s.db.Get(ctx, reportID)
	if err != nil {
		return false, err
	}
	digest = strings.ToLower(strings.TrimSpace(digest))
	for _, ev := range r.Evidence {
		if ev.SHA256 == digest {
			return true, nil
		}
	}
	return false, nil
}

// TransactionView is the polling answer for a ledger hash.
type TransactionView struct {
	Hash    string          `json:"hash"`
	Status  ledger.Status   `json:"status"`
	Display ChainStatus     `json:"display"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *ReportService) Transaction(hash string) (TransactionView, error) {
	st := s.ledger.Status(hash)
	v := TransactionView{Hash: hash, Status: st, Display: ChainStatusOf(st)}
	if st == ledger.StatusNotFound {
		return v, fmt.Errorf("%w: %s", ledger.ErrNotFound, hash)
	}
	data, err := s.ledger.Data(hash)
	if err != nil {
		return v, err
	}
	v.Payload = data
	return v, nil
}
