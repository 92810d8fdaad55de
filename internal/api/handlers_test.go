package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crimewatch/internal/anchor"
	"crimewatch/internal/core"
	"crimewatch/internal/db"
	"crimewatch/internal/ledger"
	"crimewatch/internal/storage"
	"crimewatch/internal/verification"
)

type manualScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

func (m *manualScheduler) AfterFunc(_ time.Duration, f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, f)
}

func (m *manualScheduler) fireAll() {
	m.mu.Lock()
	tasks := m.tasks
	m.tasks = nil
	m.mu.Unlock()
	for _, f := range tasks {
		f()
	}
}

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

type testEnv struct {
	router  http.Handler
	sched   *manualScheduler
	objects *storage.MemoryStorage
	batcher *anchor.Batcher
}

func newTestEnv(t *testing.T, withAnchor bool) *testEnv {
	t.Helper()
	env := &testEnv{sched: &manualScheduler{}, objects: storage.NewMemoryStorage("evidence")}

	opts := []ledger.Option{ledger.WithScheduler(env.sched), ledger.WithSource(fixedSource(0.5))}
	if withAnchor {
		env.batcher = anchor.NewBatcher(anchor.NewMockWriter(0), 1, time.Hour, nil)
		t.Cleanup(env.batcher.Close)
		opts = append(opts, ledger.WithObserver(env.batcher.Settled))
	}
	sim, err := ledger.NewSimulator(ledger.DefaultConfig(), opts...)
	require.NoError(t, err)

	svc := core.NewReportService(sim, verification.NewAggregator(verification.NewMemoryStore(), nil), env.objects, db.NewMemoryDB(), nil)
	h := &Handler{Service: svc}
	if env.batcher != nil {
		h.Anchors = env.batcher
	}
	env.router = NewRouter(h)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func theft() core.ReportInput {
	return core.ReportInput{
		Type:        core.Theft,
		Description: "Bicycle stolen from outside the library",
		Location:    core.Location{Lat: 21.165, Lng: 72.831, Address: "Central Library"},
		Date:        "2025-04-01",
		Time:        "14:30",
		ReportedBy:  "carol",
	}
}

func TestSubmitAndPollTransaction(t *testing.T) {
	env := newTestEnv(t, false)

	rr := env.do(t, http.MethodPost, "/api/v1/reports", theft(), nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rep := decode[core.Report](t, rr)
	assert.Regexp(t, `^0x[0-9a-f]{40}$`, rep.TxHash)
	assert.Equal(t, core.ChainPending, rep.ChainStatus)
	assert.Equal(t, core.Reported, rep.Status)
	assert.Equal(t, verification.Unverified, rep.Tier)

	rr = env.do(t, http.MethodGet, "/api/v1/transactions/"+rep.TxHash+"/status", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, ledger.StatusPending, decode[core.TransactionView](t, rr).Status)

	env.sched.fireAll()

	rr = env.do(t, http.MethodGet, "/api/v1/transactions/"+rep.TxHash, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decode[core.TransactionView](t, rr)
	assert.Equal(t, ledger.StatusConfirmed, view.Status)
	assert.Equal(t, core.ChainConfirmed, view.Display)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(view.Payload, &payload))
	assert.Equal(t, "Theft", payload["type"])
	assert.Equal(t, "carol", payload["reportedBy"])

	rr = env.do(t, http.MethodGet, "/api/v1/reports/"+rep.ID, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, core.ChainConfirmed, decode[core.Report](t, rr).ChainStatus)
}

func TestUnknownTransaction(t *testing.T) {
	env := newTestEnv(t, false)

	rr := env.do(t, http.MethodGet, "/api/v1/transactions/0xnope/status", nil, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	view := decode[core.TransactionView](t, rr)
	assert.Equal(t, ledger.StatusNotFound, view.Status)
	assert.Equal(t, core.ChainNotFound, view.Display)
}

func TestAnonymousReportHidesReporter(t *testing.T) {
	env := newTestEnv(t, false)
	in := theft()
	in.Anonymous = true

	rr := env.do(t, http.MethodPost, "/api/v1/reports", in, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	rep := decode[core.Report](t, rr)

	assert.NotContains(t, rr.Body.String(), "carol")

	rr = env.do(t, http.MethodGet, "/api/v1/transactions/"+rep.TxHash, nil, nil)
	view := decode[core.TransactionView](t, rr)
	assert.NotContains(t, string(view.Payload), "carol")

	rr = env.do(t, http.MethodGet, "/api/v1/reports/"+rep.ID, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "carol")
	assert.True(t, decode[core.Report](t, rr).Anonymous)

	rr = env.do(t, http.MethodGet, "/api/v1/reports", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "carol")

	rr = env.do(t, http.MethodPost, "/api/v1/reports/"+rep.ID+"/verifications", map[string]string{"actorId": "carol"}, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t, false)
	in := theft()
	in.Description = "short"

	rr := env.do(t, http.MethodPost, "/api/v1/reports", in, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", strings.NewReader("{"))
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMultipartEvidence(t *testing.T) {
	env := newTestEnv(t, false)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	reportJSON, err := json.Marshal(theft())
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("report", string(reportJSON)))
	fw, err := mw.CreateFormFile("evidence", "photo.jpg")
	require.NoError(t, err)
	_, err = fw.Write([]byte("jpeg bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("evidence_description", "the empty rack"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rep := decode[core.Report](t, rr)
	require.Len(t, rep.Evidence, 1)
	sum := sha256.Sum256([]byte("jpeg bytes"))
	digest := hex.EncodeToString(sum[:])
	assert.Equal(t, digest, rep.Evidence[0].SHA256)
	assert.Equal(t, "the empty rack", rep.Evidence[0].Description)
	assert.Equal(t, "photo.jpg", rep.Evidence[0].FileName)

	name := strings.TrimPrefix(rep.Evidence[0].StoragePath, "evidence/")
	obj, ok := env.objects.Get(name)
	require.True(t, ok)
	assert.Equal(t, "jpeg bytes", string(obj.Data))

	rr = env.do(t, http.MethodGet, "/api/v1/reports/"+rep.ID+"/evidence/"+digest, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode[map[string]any](t, rr)["verified"])

	rr = env.do(t, http.MethodGet, "/api/v1/reports/"+rep.ID+"/evidence/"+strings.Repeat("0", 64), nil, nil)
	assert.Equal(t, false, decode[map[string]any](t, rr)["verified"])
}

func TestVerificationFlow(t *testing.T) {
	env := newTestEnv(t, false)
	rr := env.do(t, http.MethodPost, "/api/v1/reports", theft(), nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decode[core.Report](t, rr).ID
	target := "/api/v1/reports/" + id + "/verifications"

	rr = env.do(t, http.MethodPost, target, map[string]string{"actorId": "alice"}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	res := decode[verification.Result](t, rr)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, verification.Unverified, res.Tier)

	rr = env.do(t, http.MethodPost, target, nil, http.Header{actorHeader: {"bob"}})
	require.Equal(t, http.StatusOK, rr.Code)
	res = decode[verification.Result](t, rr)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, verification.Reliable, res.Tier)

	rr = env.do(t, http.MethodPost, target, map[string]string{"actorId": "alice"}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	res = decode[verification.Result](t, rr)
	assert.Equal(t, 2, res.Count)
	assert.True(t, res.AlreadyVerified)

	rr = env.do(t, http.MethodPost, target, map[string]string{"actorId": "carol"}, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPost, target, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/reports/missing/verifications", map[string]string{"actorId": "alice"}, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, target, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, decode[verification.Result](t, rr).Count)

	rr = env.do(t, http.MethodGet, "/api/v1/reports/"+id, nil, nil)
	rep := decode[core.Report](t, rr)
	assert.Equal(t, 2, rep.VerificationCount)
	assert.Equal(t, verification.Reliable, rep.Tier)
}

func TestEmergencyReport(t *testing.T) {
	env := newTestEnv(t, false)
	in := core.EmergencyInput{
		Description: "Fire spreading in the market hall",
		Location:    "Market Hall",
		Coordinates: core.Location{Lat: 21.17, Lng: 72.84},
		ContactInfo: "+10000000000",
	}
	rr := env.do(t, http.MethodPost, "/api/v1/emergency-reports", in, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rep := decode[core.Report](t, rr)
	assert.Equal(t, core.Emergency, rep.Type)
	assert.True(t, strings.HasPrefix(rep.ID, "ER-"))

	rr = env.do(t, http.MethodGet, "/api/v1/transactions/"+rep.TxHash, nil, nil)
	view := decode[core.TransactionView](t, rr)
	var payload struct {
		Type   string         `json:"type"`
		Report map[string]any `json:"report"`
	}
	require.NoError(t, json.Unmarshal(view.Payload, &payload))
	assert.Equal(t, "EMERGENCY_REPORT", payload.Type)
	assert.Equal(t, "Emergency", payload.Report["type"])

	in.Location = "x"
	rr = env.do(t, http.MethodPost, "/api/v1/emergency-reports", in, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListStatsAndHeatmap(t *testing.T) {
	env := newTestEnv(t, false)
	fraud := theft()
	fraud.Type = core.Fraud
	fraud.Location = core.Location{Lat: 21.5, Lng: 73.2}
	for _, in := range []core.ReportInput{theft(), theft(), fraud} {
		rr := env.do(t, http.MethodPost, "/api/v1/reports", in, nil)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := env.do(t, http.MethodGet, "/api/v1/reports?type=Theft", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[struct {
		Total   int           `json:"total"`
		Reports []core.Report `json:"reports"`
	}](t, rr)
	assert.Equal(t, 2, list.Total)

	rr = env.do(t, http.MethodGet, "/api/v1/reports?type=Arson", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/dashboard/stats", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[core.Stats](t, rr)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByType[core.Theft])
	assert.Equal(t, 3, st.ByStatus[core.Reported])
	assert.Equal(t, 3, st.ByChainStatus[core.ChainPending])

	rr = env.do(t, http.MethodGet, "/api/v1/dashboard/heatmap?range=all&cell=0.01", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	hm := decode[core.Heatmap](t, rr)
	require.Len(t, hm.Cells, 2)
	assert.Equal(t, 2, hm.Cells[0].Count)

	rr = env.do(t, http.MethodGet, "/api/v1/dashboard/heatmap?range=decade", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = env.do(t, http.MethodGet, "/api/v1/dashboard/heatmap?cell=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t, false)
	rr := env.do(t, http.MethodPost, "/api/v1/reports", theft(), nil)
	id := decode[core.Report](t, rr).ID

	rr = env.do(t, http.MethodPatch, "/api/v1/reports/"+id+"/status", map[string]string{"status": "Resolved"}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, core.Resolved, decode[core.Report](t, rr).Status)

	rr = env.do(t, http.MethodPatch, "/api/v1/reports/"+id+"/status", map[string]string{"status": "Forgotten"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAnchorReceipt(t *testing.T) {
	env := newTestEnv(t, false)
	rr := env.do(t, http.MethodGet, "/api/v1/transactions/0xabc/anchor", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)

	env = newTestEnv(t, true)
	rr = env.do(t, http.MethodPost, "/api/v1/reports", theft(), nil)
	hash := decode[core.Report](t, rr).TxHash

	rr = env.do(t, http.MethodGet, "/api/v1/transactions/"+hash+"/anchor", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	env.sched.fireAll()
	require.Eventually(t, func() bool {
		return env.do(t, http.MethodGet, "/api/v1/transactions/"+hash+"/anchor", nil, nil).Code == http.StatusOK
	}, time.Second, 5*time.Millisecond)

	rr = env.do(t, http.MethodGet, "/api/v1/transactions/"+hash+"/anchor", nil, nil)
	rec := decode[anchor.Receipt](t, rr)
	assert.Equal(t, hash, rec.TxHash)
	assert.NotEmpty(t, rec.AnchorTxID)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	rr := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
