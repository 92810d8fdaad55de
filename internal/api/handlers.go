package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"crimewatch/internal/anchor"
	"crimewatch/internal/core"
	"crimewatch/internal/ledger"
	"crimewatch/internal/verification"
)

const maxUploadBytes = 32 << 20

type ReceiptSource interface {
	Receipt(txHash string) (anchor.Receipt, error)
}

type Handler struct {
	Service *core.ReportService
	// Anchors is nil when anchoring is disabled.
	Anchors ReceiptSource
	Log     *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrReportNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, anchor.ErrNoReceipt):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidReport),
		errors.Is(err, verification.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSelfVerification):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeSubmission reads a report from either a JSON body or a multipart
// form with a "report" JSON field and "evidence" files.
func decodeSubmission(r *http.Request, into any) ([]core.EvidenceFile, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := json.NewDecoder(r.Body).Decode(into); err != nil {
			return nil, noop, fmt.Errorf("%w: %v", core.ErrInvalidReport, err)
		}
		return nil, noop, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, noop, fmt.Errorf("%w: %v", core.ErrInvalidReport, err)
	}
	if err := json.Unmarshal([]byte(r.FormValue("report")), into); err != nil {
		return nil, noop, fmt.Errorf("%w: report field: %v", core.ErrInvalidReport, err)
	}

	headers := r.MultipartForm.File["evidence"]
	descriptions := r.MultipartForm.Value["evidence_description"]
	var (
		files  []core.EvidenceFile
		opened []multipart.File
	)
	cleanup := func() {
		for _, f := range opened {
			f.Close()
		}
		r.MultipartForm.RemoveAll()
	}
	for i, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			cleanup()
			return nil, noop, fmt.Errorf("open evidence %s: %w", fh.Filename, err)
		}
		opened = append(opened, f)
		ev := core.EvidenceFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        f,
			Size:        fh.Size,
		}
		if i < len(descriptions) {
			ev.Description = descriptions[i]
		}
		files = append(files, ev)
	}
	return files, cleanup, nil
}

func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var in core.ReportInput
	files, cleanup, err := decodeSubmission(r, &in)
	defer cleanup()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if in.ReportedBy == "" {
		in.ReportedBy = r.Header.Get(actorHeader)
	}
	rep, err := h.Service.SubmitReport(r.Context(), in, files)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (h *Handler) SubmitEmergency(w http.ResponseWriter, r *http.Request) {
	var in core.EmergencyInput
	files, cleanup, err := decodeSubmission(r, &in)
	defer cleanup()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if in.ReportedBy == "" {
		in.ReportedBy = r.Header.Get(actorHeader)
	}
	rep, err := h.Service.SubmitEmergency(r.Context(), in, files)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func filterFrom(r *http.Request) (core.Filter, error) {
	q := r.URL.Query()
	f := core.Filter{
		Type:   core.CrimeType(q.Get("type")),
		Status: core.CrimeStatus(q.Get("status")),
	}
	if f.Type == "all" {
		f.Type = ""
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, fmt.Errorf("%w: unknown crime type %q", core.ErrInvalidReport, f.Type)
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, fmt.Errorf("%w: unknown status %q", core.ErrInvalidReport, f.Status)
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, fmt.Errorf("%w: since: %v", core.ErrInvalidReport, err)
		}
		f.Since = t
	}
	return f, nil
}

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reports, err := h.Service.ListReports(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(reports), "reports": reports})
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Service.GetReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status core.CrimeStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", core.ErrInvalidReport, err))
		return
	}
	rep, err := h.Service.UpdateStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

const actorHeader = "X-Actor-ID"

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActorID string `json:"actorId"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			h.fail(w, r, fmt.Errorf("%w: %v", verification.ErrInvalidArgument, err))
			return
		}
	}
	if body.ActorID == "" {
		body.ActorID = r.Header.Get(actorHeader)
	}
	res, err := h.Service.VerifyReport(r.Context(), mux.Vars(r)["id"], body.ActorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Verifications(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Verifications(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) VerifyEvidence(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ok, err := h.Service.VerifyEvidence(r.Context(), vars["id"], vars["sha256"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reportId": vars["id"], "sha256": vars["sha256"], "verified": ok})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.Service.Stats(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) Heatmap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hq := core.HeatmapQuery{
		Range: core.TimeRange(q.Get("range")),
		Type:  core.CrimeType(q.Get("type")),
	}
	if hq.Type == "all" {
		hq.Type = ""
	}
	if c := q.Get("cell"); c != "" {
		size, err := strconv.ParseFloat(c, 64)
		if err != nil || size <= 0 {
			h.fail(w, r, fmt.Errorf("%w: cell must be a positive number", core.ErrInvalidReport))
			return
		}
		hq.CellSize = size
	}
	hm, err := h.Service.Heatmap(r.Context(), hq)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hm)
}

func (h *Handler) Transaction(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.Transaction(mux.Vars(r)["hash"])
	if err != nil {
		writeJSON(w, statusFor(err), v)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// TransactionStatus answers polls. Unknown hashes get 404 with status
// not_found in the body.
func (h *Handler) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.Transaction(mux.Vars(r)["hash"])
	v.Payload = nil
	if err != nil {
		writeJSON(w, statusFor(err), v)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) AnchorReceipt(w http.ResponseWriter, r *http.Request) {
	if h.Anchors == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "anchoring is disabled"})
		return
	}
	rec, err := h.Anchors.Receipt(mux.Vars(r)["hash"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
