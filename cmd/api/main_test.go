package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"

	"presenca/internal/auth"
	"presenca/internal/checkin"
	"presenca/internal/config"
	"presenca/internal/httpmiddleware"
	"presenca/internal/metrics"
	"presenca/internal/queue"
	"presenca/internal/report"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRecords struct {
	records []checkin.Record
	findErr error
	listErr error
	deleted []string
	inserts int
}

func (s *stubRecords) List(ctx context.Context) ([]checkin.Record, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]checkin.Record(nil), s.records...), nil
}

func (s *stubRecords) Insert(ctx context.Context, rec checkin.Record) error {
	s.inserts++
	s.records = append(s.records, rec)
	return nil
}

func (s *stubRecords) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubRecords) FindByMatriculaAndDate(ctx context.Context, matricula, date string) (*checkin.Record, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	for i := range s.records {
		if s.records[i].Matricula == matricula && s.records[i].Date == date {
			return &s.records[i], nil
		}
	}
	return nil, nil
}

type stubConfigs struct {
	cfg    checkin.Config
	getErr error
}

func (s *stubConfigs) Get(ctx context.Context) (checkin.Config, error) {
	if s.getErr != nil {
		return checkin.Config{}, s.getErr
	}
	return s.cfg, nil
}

func (s *stubConfigs) Update(ctx context.Context, cfg checkin.Config) (checkin.Config, error) {
	s.cfg = cfg
	return s.cfg, nil
}

type failingQueue struct{}

func (failingQueue) Publish(ctx context.Context, evt queue.Event) error {
	return errors.New("queue down")
}

func (failingQueue) Consume(ctx context.Context) (<-chan queue.Event, error) {
	return nil, errors.New("queue down")
}

func testConfig() config.App {
	return config.App{
		JWTIssuer:      "presenca-test",
		JWTSigningKey:  "test-signing-key",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     time.Hour,
		InstructorUser: "professor",
		InstructorPass: "2020",
	}
}

func testRouter(records checkin.RecordStore, configs checkin.ConfigStore, q queue.Queue) *gin.Engine {
	cfg := testConfig()
	if q == nil {
		q = queue.NewInMemory(16)
	}
	return newRouter(cfg, deps{
		svc:           checkin.NewService(records, configs, time.UTC),
		reports:       report.NewEngine(language.BrazilianPortuguese),
		authenticator: auth.NewStaticAuthenticator(cfg.InstructorUser, cfg.InstructorPass),
		q:             q,
		loc:           time.UTC,
		limiter:       httpmiddleware.NewIPRateLimiter(1000, 1000),
		storeHealthy:  func(context.Context) bool { return true },
		redisHealthy:  func(context.Context) bool { return true },
		dailyCount:    func(context.Context, string) (int64, error) { return 7, nil },
	})
}

func doJSON(r *gin.Engine, method, path, token string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func instructorToken(t *testing.T) string {
	t.Helper()
	cfg := testConfig()
	pair, err := auth.Issue("professor", auth.RoleInstructor, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		t.Fatalf("token issue failed: %v", err)
	}
	return pair.AccessToken
}

func TestSubmitEndpointSuccess(t *testing.T) {
	records := &stubRecords{}
	q := queue.NewInMemory(16)
	r := testRouter(records, &stubConfigs{cfg: checkin.Config{Accepting: true}}, q)

	w := doJSON(r, http.MethodPost, "/v1/checkins", "", gin.H{
		"nome_completo": "João Silva",
		"matricula":     "123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var rec checkin.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if rec.FullName != "João Silva" || rec.Matricula != "123" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Status != checkin.StatusRegistered {
		t.Errorf("expected status %q, got %q", checkin.StatusRegistered, rec.Status)
	}
	if records.inserts != 1 {
		t.Errorf("expected one insert, got %d", records.inserts)
	}

	// The stats event must carry the record's id and date.
	events, _ := q.Consume(context.Background())
	select {
	case evt := <-events:
		if evt.RecordID != rec.ID || evt.Date != rec.Date {
			t.Errorf("unexpected event %+v for record %+v", evt, rec)
		}
	case <-time.After(time.Second):
		t.Error("no stats event published")
	}
}

func TestSubmitEndpointValidationStatuses(t *testing.T) {
	cases := []struct {
		name       string
		fullName   string
		matricula  string
		wantStatus int
	}{
		{"single word name", "João", "123", http.StatusUnprocessableEntity},
		{"blank matricula", "João Silva", "   ", http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		r := testRouter(&stubRecords{}, &stubConfigs{cfg: checkin.Config{Accepting: true}}, nil)
		w := doJSON(r, http.MethodPost, "/v1/checkins", "", gin.H{
			"nome_completo": tc.fullName,
			"matricula":     tc.matricula,
		})
		if w.Code != tc.wantStatus {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.wantStatus, w.Code, w.Body.String())
		}
	}
}

func TestSubmitEndpointClosed(t *testing.T) {
	records := &stubRecords{}
	r := testRouter(records, &stubConfigs{cfg: checkin.Config{Accepting: false}}, nil)

	w := doJSON(r, http.MethodPost, "/v1/checkins", "", gin.H{
		"nome_completo": "João Silva",
		"matricula":     "123",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if records.inserts != 0 {
		t.Error("closed gate must not insert")
	}
}

func TestSubmitEndpointDuplicateConflict(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	records := &stubRecords{records: []checkin.Record{{
		ID:        "r1",
		FullName:  "João Silva",
		Matricula: "123",
		Date:      today,
		TimeLabel: "10:00",
		Status:    checkin.StatusRegistered,
	}}}
	r := testRouter(records, &stubConfigs{cfg: checkin.Config{Accepting: true}}, nil)

	w := doJSON(r, http.MethodPost, "/v1/checkins", "", gin.H{
		"nome_completo": "João Silva Santos",
		"matricula":     "123",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "10:00") {
		t.Errorf("conflict response must carry the existing hora: %s", w.Body.String())
	}
}

func TestSubmitEndpointStorageError(t *testing.T) {
	records := &stubRecords{findErr: errors.New("connection refused")}
	r := testRouter(records, &stubConfigs{cfg: checkin.Config{Accepting: true}}, nil)

	w := doJSON(r, http.MethodPost, "/v1/checkins", "", gin.H{
		"nome_completo": "João Silva",
		"matricula":     "123",
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitEndpointQueueFailureStillCreated(t *testing.T) {
	records := &stubRecords{}
	r := testRouter(records, &stubConfigs{cfg: checkin.Config{Accepting: true}}, failingQueue{})

	w := doJSON(r, http.MethodPost, "/v1/checkins", "", gin.H{
		"nome_completo": "João Silva",
		"matricula":     "123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("queue failure must not fail the submit: got %d: %s", w.Code, w.Body.String())
	}
	if records.inserts != 1 {
		t.Errorf("record should still be persisted, got %d inserts", records.inserts)
	}
}

func TestLoginEndpoint(t *testing.T) {
	r := testRouter(&stubRecords{}, &stubConfigs{cfg: checkin.Config{Accepting: true}}, nil)

	w := doJSON(r, http.MethodPost, "/v1/instructor/login", "", gin.H{
		"username": "professor",
		"password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/v1/instructor/login", "", gin.H{
		"username": "professor",
		"password": "2020",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.AccessToken == "" {
		t.Fatalf("expected an access token, got %s", w.Body.String())
	}

	// The issued token must open the instructor group.
	w = doJSON(r, http.MethodGet, "/v1/instructor/records", body.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Errorf("issued token rejected: %d: %s", w.Code, w.Body.String())
	}
}

func TestInstructorRoutesRequireToken(t *testing.T) {
	r := testRouter(&stubRecords{}, &stubConfigs{cfg: checkin.Config{Accepting: true}}, nil)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/v1/instructor/records"},
		{http.MethodDelete, "/v1/instructor/records/r1"},
		{http.MethodGet, "/v1/instructor/config"},
		{http.MethodGet, "/v1/instructor/stats/today"},
	}
	for _, p := range paths {
		w := doJSON(r, p.method, p.path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: expected 401, got %d", p.method, p.path, w.Code)
		}
		w = doJSON(r, p.method, p.path, "not-a-jwt", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with garbage token: expected 401, got %d", p.method, p.path, w.Code)
		}
	}
}

func TestInstructorRecordsView(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	records := &stubRecords{records: []checkin.Record{
		{ID: "a", FullName: "João Silva", Matricula: "100", Timestamp: time.Now().UTC(), Date: today, Status: checkin.StatusRegistered},
		{ID: "b", FullName: "Maria Souza", Matricula: "200", Timestamp: time.Now().UTC(), Date: "2020-01-01", Status: checkin.StatusRegistered},
	}}
	r := testRouter(records, &stubConfigs{cfg: checkin.Config{Accepting: true}}, nil)
	token := instructorToken(t)

	// Default view is today's day window, so the 2020 record is filtered.
	w := doJSON(r, http.MethodGet, "/v1/instructor/records", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Records []checkin.Record `json:"records"`
		Count   int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if body.Count != 1 || len(body.Records) != 1 || body.Records[0].ID != "a" {
		t.Errorf("expected only today's record, got %+v", body)
	}

	// A year window over 2020 finds the old record.
	w = doJSON(r, http.MethodGet, "/v1/instructor/records?view=year&year=2020", token, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if body.Count != 1 || body.Records[0].ID != "b" {
		t.Errorf("expected the 2020 record, got %+v", body)
	}
}

func TestInstructorConfigAndDelete(t *testing.T) {
	records := &stubRecords{}
	configs := &stubConfigs{cfg: checkin.Config{Accepting: true}}
	r := testRouter(records, configs, nil)
	token := instructorToken(t)

	w := doJSON(r, http.MethodPut, "/v1/instructor/config", token, gin.H{"checkin_enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if configs.cfg.Accepting {
		t.Error("expected accepting=false after toggle")
	}
	if configs.cfg.UpdatedBy != "professor" {
		t.Errorf("expected updated_by professor, got %q", configs.cfg.UpdatedBy)
	}

	w = doJSON(r, http.MethodDelete, "/v1/instructor/records/r1", token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(records.deleted) != 1 || records.deleted[0] != "r1" {
		t.Errorf("delete not forwarded: %v", records.deleted)
	}

	w = doJSON(r, http.MethodGet, "/v1/instructor/stats/today", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"count":7`) {
		t.Errorf("expected count 7, got %s", w.Body.String())
	}
}

func TestSubmitFailureMapping(t *testing.T) {
	cases := []struct {
		err         error
		wantStatus  int
		wantOutcome string
	}{
		{checkin.ErrCheckinClosed, http.StatusForbidden, metrics.OutcomeClosed},
		{checkin.ErrInvalidName, http.StatusUnprocessableEntity, metrics.OutcomeInvalidName},
		{checkin.ErrMissingIdentifier, http.StatusUnprocessableEntity, metrics.OutcomeMissingMatricula},
		{&checkin.DuplicateError{TimeLabel: "10:00"}, http.StatusConflict, metrics.OutcomeDuplicate},
		{errors.New("anything else"), http.StatusServiceUnavailable, metrics.OutcomeStorageError},
	}
	for _, tc := range cases {
		status, msg, outcome := submitFailure(tc.err)
		if status != tc.wantStatus {
			t.Errorf("submitFailure(%v): expected status %d, got %d", tc.err, tc.wantStatus, status)
		}
		if outcome != tc.wantOutcome {
			t.Errorf("submitFailure(%v): expected outcome %q, got %q", tc.err, tc.wantOutcome, outcome)
		}
		if msg == "" {
			t.Errorf("submitFailure(%v): empty user message", tc.err)
		}
	}
	if _, msg, _ := submitFailure(&checkin.DuplicateError{TimeLabel: "10:00"}); !strings.Contains(msg, "10:00") {
		t.Errorf("duplicate message must carry the existing hora, got %q", msg)
	}
}

func TestWindowFromQuery(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		query     string
		wantMode  string
		wantValue string
	}{
		{"", report.ModeDay, now.Format("2006-01-02")},
		{"?view=day&date=2024-05-01", report.ModeDay, "2024-05-01"},
		{"?view=month&month=2024-05", report.ModeMonth, "2024-05"},
		{"?view=month", report.ModeMonth, now.Format("2006-01")},
		{"?view=year&year=2024", report.ModeYear, "2024"},
		{"?view=year", report.ModeYear, now.Format("2006")},
		{"?view=bogus", report.ModeDay, now.Format("2006-01-02")},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/v1/instructor/records"+tc.query, nil)
		got := windowFromQuery(c, time.UTC)
		if got.Mode != tc.wantMode || got.Value != tc.wantValue {
			t.Errorf("windowFromQuery(%q): expected %s/%s, got %s/%s",
				tc.query, tc.wantMode, tc.wantValue, got.Mode, got.Value)
		}
	}
}
