package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impcg-clinical-engine/internal/app"
	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/repository"
	"github.com/impcg-clinical-engine/internal/service"
	"github.com/impcg-clinical-engine/internal/storage"
	"github.com/impcg-clinical-engine/pkg/external"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubAssistant struct {
	text string
	err  error
	asks []string
}

func (s *stubAssistant) Ask(_ context.Context, q string) (string, error) {
	s.asks = append(s.asks, q)
	return s.text, s.err
}

type harness struct {
	t         *testing.T
	app       *app.App
	server    *Server
	clock     *fixedClock
	assistant *stubAssistant
}

func testConfig(t *testing.T) *domain.Config {
	engine := domain.DefaultEngineConfig()
	engine.TickInterval = time.Hour
	engine.TimeZone = "UTC"
	return &domain.Config{
		Server:  domain.ServerConfig{Host: "127.0.0.1", Port: 0},
		Storage: domain.StorageConfig{Backend: "memory", DataDir: t.TempDir()},
		Audit:   domain.AuditConfig{UserID: "test_device", SigningKey: "k"},
		Logging: domain.LoggingConfig{Level: "info"},
		Engine:  engine,
	}
}

func newHarness(t *testing.T, store domain.KVStore) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	clock := &fixedClock{now: time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)}
	assistant := &stubAssistant{text: "Summary. Verify against the guideline."}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	a, err := app.New(context.Background(), testConfig(t), logger,
		app.WithStore(store), app.WithClock(clock), app.WithAssistant(assistant))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	return &harness{t: t, app: a, server: NewServer(a), clock: clock, assistant: assistant}
}

func (h *harness) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = h.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClassify(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/api/v1/triage/classify", map[string]interface{}{
		"systolic_bp": 165, "diastolic_bp": 95,
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ClassifyResponse](t, w)
	require.NotNil(t, resp.Triage)
	assert.Equal(t, domain.TriageRed, *resp.Triage)

	w = h.do(http.MethodPost, "/api/v1/triage/classify", map[string]interface{}{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[ClassifyResponse](t, w).Triage)

	w = h.do(http.MethodPost, "/api/v1/triage/classify", map[string]interface{}{
		"systolic_bp": 118, "diastolic_bp": 76, "temperature": 45,
	})
	resp = decode[ClassifyResponse](t, w)
	require.NotNil(t, resp.Triage)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, "temperature", resp.Warnings[0].Field)

	w = h.do(http.MethodPost, "/api/v1/triage/classify", map[string]interface{}{
		"systolic_bp": 80, "diastolic_bp": 90,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	e := decode[domain.MCPError](t, w)
	assert.Equal(t, domain.ErrValidation, e.Code)
	assert.Equal(t, "Systolic BP cannot be lower than Diastolic", e.Message)
	assert.NotEmpty(t, e.RequestID)

	w = h.do(http.MethodPost, "/api/v1/triage/classify", map[string]interface{}{"consciousness": "ASLEEP"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/triage/classify", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func saveEncounter(t *testing.T, h *harness, vitals map[string]interface{}) domain.PatientRecord {
	t.Helper()
	w := h.do(http.MethodPost, "/api/v1/triage/encounters", map[string]interface{}{
		"vitals": vitals, "notes": "  headache  ", "gestational_age_weeks": 32,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[domain.PatientRecord](t, w)
}

func TestEncounterRecordsAndReferral(t *testing.T) {
	h := newHarness(t, nil)

	red := saveEncounter(t, h, map[string]interface{}{"systolic_bp": 170, "diastolic_bp": 112, "heart_rate": 100})
	assert.Equal(t, domain.TriageRed, red.TriageResult)
	assert.Equal(t, "headache", red.Notes)
	h.clock.Advance(time.Minute)
	green := saveEncounter(t, h, map[string]interface{}{"systolic_bp": 118, "diastolic_bp": 76})

	w := h.do(http.MethodPost, "/api/v1/triage/encounters", map[string]interface{}{"vitals": map[string]interface{}{}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, domain.ErrClassificationEmpty, decode[domain.MCPError](t, w).Code)

	list := decode[struct {
		Records []domain.PatientRecord `json:"records"`
	}](t, h.do(http.MethodGet, "/api/v1/records", nil))
	require.Len(t, list.Records, 2)
	assert.Equal(t, green.ID, list.Records[0].ID)

	limited := decode[struct {
		Records []domain.PatientRecord `json:"records"`
	}](t, h.do(http.MethodGet, "/api/v1/records?limit=1", nil))
	assert.Len(t, limited.Records, 1)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/records?limit=x", nil).Code)

	stats := decode[domain.PatientStats](t, h.do(http.MethodGet, "/api/v1/records/stats", nil))
	assert.Equal(t, domain.PatientStats{HighRisk: 1, LowRisk: 1, Total: 2}, stats)

	w = h.do(http.MethodGet, "/api/v1/records/"+red.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/records/missing", nil).Code)

	ref := decode[service.Referral](t, h.do(http.MethodGet, "/api/v1/records/"+red.ID+"/referral", nil))
	assert.Equal(t, "170/112 mmHg", ref.BP)
	assert.False(t, ref.HasMissingData)
	assert.Equal(t, "MISSING", ref.RR)
	assert.Contains(t, ref.Text, "URGENT AMBULANCE TRANSFER REQUIRED")

	w = h.do(http.MethodGet, "/api/v1/records/"+red.ID+"/referral.pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))

	w = h.do(http.MethodPost, "/api/v1/records/"+red.ID+"/referral/share", map[string]string{"method": "copy"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do(http.MethodPost, "/api/v1/records/"+red.ID+"/referral/share", map[string]string{"method": "fax"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/api/v1/records/export.xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/api/v1/triage/clear", nil).Code)

	entries, err := h.app.Audit.Entries(context.Background(), 0)
	require.NoError(t, err)
	var details []string
	for _, e := range entries {
		details = append(details, e.Details)
	}
	assert.Contains(t, details, fmt.Sprintf("[PatientID: %s] Copied referral note for Patient %s", red.ID, red.ID))
	assert.Contains(t, details, "User cleared Triage form inputs")
}

func TestRisk(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/api/v1/risk", RiskRequest{Systolic: "150", Diastolic: "95", ProteinDipstick: 2, GestationalAge: "30"})
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[service.RiskAssessment](t, w)
	assert.Equal(t, domain.RiskHigh, result.Level)
	assert.Equal(t, "REFER TO HOSPITAL TODAY", result.Guidance.Action)

	w = h.do(http.MethodPost, "/api/v1/risk", RiskRequest{Systolic: "abc", Diastolic: "95"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, domain.ErrInvalidInput, decode[domain.MCPError](t, w).Code)

	w = h.do(http.MethodPost, "/api/v1/risk", RiskRequest{Systolic: "120", Diastolic: "80", ProteinDipstick: 5})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPartogram(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/api/v1/partogram/observations", ObservationRequest{DilationCm: 4, Time: "08:00"})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodPost, "/api/v1/partogram/observations", ObservationRequest{DilationCm: 6, Time: "13:00"})
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[service.PartogramView](t, w)
	assert.True(t, view.Breached)
	assert.Len(t, view.Points, 2)

	w = h.do(http.MethodPost, "/api/v1/partogram/observations", ObservationRequest{DilationCm: 11, Time: "14:00"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = h.do(http.MethodPost, "/api/v1/partogram/observations", ObservationRequest{DilationCm: 7, Time: "25:99"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	assert.Equal(t, http.StatusPreconditionRequired, h.do(http.MethodDelete, "/api/v1/partogram", nil).Code)
	assert.Len(t, decode[service.PartogramView](t, h.do(http.MethodGet, "/api/v1/partogram", nil)).Points, 2)

	w = h.do(http.MethodDelete, "/api/v1/partogram?confirm=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[service.PartogramView](t, w).Points)
}

func TestPPHLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	catalogue := decode[struct {
		Actions []service.PPHAction `json:"actions"`
	}](t, h.do(http.MethodGet, "/api/v1/pph/actions", nil))
	assert.Len(t, catalogue.Actions, 6)

	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/v1/pph/actions/TXA", nil).Code)

	w := h.do(http.MethodPost, "/api/v1/pph/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[service.PPHStatus](t, w).IsActive)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/v1/pph/start", nil).Code)

	w = h.do(http.MethodPost, "/api/v1/pph/actions/Oxytocin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Oxytocin"}, decode[service.PPHStatus](t, w).ActionsTaken)
	assert.Equal(t, http.StatusUnprocessableEntity, h.do(http.MethodPost, "/api/v1/pph/actions/Prayer", nil).Code)

	h.clock.Advance(901 * time.Second)
	status := h.app.PPH.Tick(context.Background())
	assert.True(t, status.IsRefractory)
	assert.Equal(t, "15:01", decode[service.PPHStatus](t, h.do(http.MethodGet, "/api/v1/pph", nil)).Clock)

	assert.Equal(t, http.StatusPreconditionRequired, h.do(http.MethodPost, "/api/v1/pph/end", nil).Code)
	w = h.do(http.MethodPost, "/api/v1/pph/end", map[string]bool{"confirm": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[service.PPHStatus](t, w).IsActive)

	_, err := repository.NewPPHStateRepository(h.app.Store).Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPPHResumeGate(t *testing.T) {
	store := storage.NewMemoryStore()
	start := time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC)
	require.NoError(t, repository.NewPPHStateRepository(store).Save(context.Background(), domain.PPHSession{
		IsActive: true, StartTime: &start, ActionsTaken: []string{"Massage"},
	}))

	h := newHarness(t, store)
	assert.Equal(t, service.ResumeCandidate, h.app.Resume.Outcome)

	status := decode[service.PPHStatus](t, h.do(http.MethodGet, "/api/v1/pph", nil))
	require.NotNil(t, status.Pending)
	assert.Equal(t, 60, status.Pending.MinutesAgo)

	w := h.do(http.MethodPost, "/api/v1/pph/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrSessionState, decode[domain.MCPError](t, w).Code)

	w = h.do(http.MethodPost, "/api/v1/pph/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status = decode[service.PPHStatus](t, w)
	assert.True(t, status.IsActive)
	assert.True(t, status.IsRefractory)
	assert.Equal(t, []string{"Massage"}, status.ActionsTaken)

	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/api/v1/pph/discard", nil).Code)
}

func TestGuidelinesAndDrugs(t *testing.T) {
	h := newHarness(t, nil)

	res := decode[struct {
		Results []domain.GuidelineChunk `json:"results"`
	}](t, h.do(http.MethodGet, "/api/v1/guidelines/search?q=pph", nil))
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "pph-1", res.Results[0].ID)

	short := decode[struct {
		Results []domain.GuidelineChunk `json:"results"`
	}](t, h.do(http.MethodGet, "/api/v1/guidelines/search?q=p", nil))
	assert.NotNil(t, short.Results)
	assert.Empty(t, short.Results)

	tagged := decode[struct {
		Results []domain.GuidelineChunk `json:"results"`
	}](t, h.do(http.MethodGet, "/api/v1/guidelines/search?tag=sepsis", nil))
	assert.NotEmpty(t, tagged.Results)

	w := h.do(http.MethodGet, "/api/v1/guidelines/pph-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 117, decode[domain.GuidelineChunk](t, w).Page)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/guidelines/none", nil).Code)

	drugs := decode[struct {
		Items      []domain.ProtocolItem `json:"items"`
		TotalPages int                   `json:"total_pages"`
	}](t, h.do(http.MethodGet, "/api/v1/drugs?q=oxytocin", nil))
	assert.Len(t, drugs.Items, 2)
	assert.Equal(t, 1, drugs.TotalPages)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/drugs?page=two", nil).Code)

	protocols := decode[struct {
		Items []domain.ProtocolItem `json:"items"`
	}](t, h.do(http.MethodGet, "/api/v1/protocols", nil))
	assert.Len(t, protocols.Items, 6)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/v1/protocols/protocol_emotive", nil).Code)

	entries, err := h.app.Audit.Entries(context.Background(), 0)
	require.NoError(t, err)
	var details []string
	for _, e := range entries {
		details = append(details, e.Details)
	}
	assert.Contains(t, details, "Quick tag search: sepsis")
	assert.Contains(t, details, "User viewed protocol: PPH: Initial Management (E-MOTIVE) (Page 117)")
}

func TestMomConnect(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/api/v1/momconnect/register", service.MomConnectRequest{IDNumber: "12345", Confirmed: true})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.do(http.MethodPost, "/api/v1/momconnect/register", service.MomConnectRequest{IDNumber: "9001015009087"})
	assert.Equal(t, http.StatusPreconditionRequired, w.Code)

	w = h.do(http.MethodPost, "/api/v1/momconnect/register", service.MomConnectRequest{IDNumber: "9001015009087", Confirmed: true})
	require.Equal(t, http.StatusOK, w.Code)
	reg := decode[service.MomConnectRegistration](t, w)
	assert.Equal(t, "*134*550*9001015009087#", reg.USSD)
	assert.Equal(t, "tel:*134*550*9001015009087%23", reg.DialURI)
}

func TestAuditEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodPost, "/api/v1/pph/start", nil)

	entries := decode[struct {
		Entries []json.RawMessage `json:"entries"`
	}](t, h.do(http.MethodGet, "/api/v1/audit?limit=10", nil))
	assert.Len(t, entries.Entries, 1)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/audit?limit=0", nil).Code)

	h.do(http.MethodPost, "/api/v1/pph/actions/TXA", nil)
	all, err := h.app.Audit.Entries(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	latest := decode[struct {
		Entries []struct {
			Details string `json:"details"`
		} `json:"entries"`
	}](t, h.do(http.MethodGet, "/api/v1/audit?limit=1", nil))
	require.Len(t, latest.Entries, 1)
	assert.Equal(t, all[1].Details, latest.Entries[0].Details)

	rep := decode[map[string]interface{}](t, h.do(http.MethodGet, "/api/v1/audit/verify", nil))
	assert.Equal(t, true, rep["valid"])
}

func TestAssistantProxy(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/api/gemini", map[string]string{"question": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Missing question"}`, w.Body.String())

	w = h.do(http.MethodPost, "/api/gemini", map[string]string{"question": " What is E-MOTIVE? "})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"text":"Summary. Verify against the guideline."}`, w.Body.String())
	assert.Equal(t, []string{"What is E-MOTIVE?"}, h.assistant.asks)

	h.assistant.err = external.ErrMissingAPIKey
	w = h.do(http.MethodPost, "/api/gemini", map[string]string{"question": "q"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Missing GEMINI_API_KEY on server"}`, w.Body.String())

	h.assistant.err = fmt.Errorf("%w: upstream returned status 503", domain.ErrAssistantUnavailable)
	w = h.do(http.MethodPost, "/api/gemini", map[string]string{"question": "q"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPPHStream(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/pph/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first service.PPHStatus
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.False(t, first.IsActive)
	assert.True(t, first.Initialized)

	_, err = h.app.PPH.Start(context.Background())
	require.NoError(t, err)

	var next service.PPHStatus
	require.NoError(t, conn.ReadJSON(&next))
	assert.True(t, next.IsActive)
	assert.Equal(t, "00:00", next.Clock)
}
