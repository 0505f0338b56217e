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

	"github.com/rs/zerolog"

	"github.com/perigee-labs/medrag/internal/ai"
	"github.com/perigee-labs/medrag/internal/auth"
	"github.com/perigee-labs/medrag/internal/rag"
	"github.com/perigee-labs/medrag/internal/store"
	"github.com/perigee-labs/medrag/pkg/models"
)

// mockStore scripts the database for handler tests.
type mockStore struct {
	getUserFunc            func(ctx context.Context, username, password string) (models.User, error)
	listPatientsFunc       func(ctx context.Context) ([]models.Patient, error)
	createPatientFunc      func(ctx context.Context, name string, age int, gender string) (models.Patient, error)
	listPrescriptionsFunc  func(ctx context.Context, patientID int64) ([]models.Prescription, error)
	createPrescriptionFunc func(ctx context.Context, p models.Prescription) (models.Prescription, error)
	listReportsFunc        func(ctx context.Context, patientID int64) ([]models.Report, error)
	createReportFunc       func(ctx context.Context, r models.Report) (models.Report, error)
}

func (m *mockStore) Migrate(ctx context.Context, embedDim int) error { return nil }

func (m *mockStore) AppendChunk(ctx context.Context, c models.Chunk) (models.Chunk, error) {
	return c, nil
}

func (m *mockStore) SearchChunks(ctx context.Context, queryVec []float32, k int) ([]models.SearchResult, error) {
	return nil, nil
}

func (m *mockStore) CountChunks(ctx context.Context) (int, error) { return 0, nil }

func (m *mockStore) ListPatients(ctx context.Context) ([]models.Patient, error) {
	return m.listPatientsFunc(ctx)
}

func (m *mockStore) CreatePatient(ctx context.Context, name string, age int, gender string) (models.Patient, error) {
	return m.createPatientFunc(ctx, name, age, gender)
}

func (m *mockStore) ListPrescriptions(ctx context.Context, patientID int64) ([]models.Prescription, error) {
	return m.listPrescriptionsFunc(ctx, patientID)
}

func (m *mockStore) CreatePrescription(ctx context.Context, p models.Prescription) (models.Prescription, error) {
	return m.createPrescriptionFunc(ctx, p)
}

func (m *mockStore) ListReports(ctx context.Context, patientID int64) ([]models.Report, error) {
	return m.listReportsFunc(ctx, patientID)
}

func (m *mockStore) CreateReport(ctx context.Context, r models.Report) (models.Report, error) {
	return m.createReportFunc(ctx, r)
}

func (m *mockStore) GetUser(ctx context.Context, username, password string) (models.User, error) {
	return m.getUserFunc(ctx, username, password)
}

func newTestServer(t *testing.T, st store.Storer) *server {
	t.Helper()
	client := ai.NewStubClient(8)
	pipeline, err := rag.New(client, rag.NewMemoryIndex(client, 0), rag.Settings{
		ChunkSize:      500,
		ChunkOverlap:   50,
		DefaultTopK:    5,
		MaxPromptChars: 12000,
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return &server{
		pipeline:  pipeline,
		store:     st,
		auth:      auth.NewService("test-secret", true),
		uploadDir: t.TempDir(),
		log:       zerolog.Nop(),
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHandleLogin(t *testing.T) {
	srv := newTestServer(t, &mockStore{
		getUserFunc: func(ctx context.Context, username, password string) (models.User, error) {
			if username == "doctor" && password == "doctor123" {
				return models.User{ID: 1, Username: "doctor", Role: "DOCTOR"}, nil
			}
			return models.User{}, store.ErrNotFound
		},
	})

	rec := postJSON(t, srv.handleLogin, "/login", loginRequest{Username: "doctor", Password: "doctor123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp auth.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Username != "doctor" || resp.Role != "DOCTOR" || resp.Token == "" {
		t.Errorf("resp = %+v", resp)
	}

	rec = postJSON(t, srv.handleLogin, "/login", loginRequest{Username: "doctor", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad credentials: status = %d, want 401", rec.Code)
	}
}

func TestHandleIngestAndAnswer(t *testing.T) {
	srv := newTestServer(t, &mockStore{})

	text := strings.Repeat("The patient is recovering well. ", 40)
	rec := postJSON(t, srv.handleIngest, "/ingest", ingestRequest{DocID: "visit-1", Text: text})
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d: %s", rec.Code, rec.Body)
	}
	var ingest models.IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &ingest); err != nil {
		t.Fatal(err)
	}
	if ingest.DocID != "visit-1" || ingest.ChunksIndexed == 0 {
		t.Errorf("ingest = %+v", ingest)
	}

	rec = postJSON(t, srv.handleAnswer, "/rag/answer", answerRequest{Question: "How is the patient?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d: %s", rec.Code, rec.Body)
	}
	var answer models.RAGAnswer
	if err := json.Unmarshal(rec.Body.Bytes(), &answer); err != nil {
		t.Fatal(err)
	}
	if answer.Question != "How is the patient?" || answer.Answer == "" {
		t.Errorf("answer = %+v", answer)
	}
	if answer.ChunkCount == 0 {
		t.Error("no chunks used")
	}
}

func TestHandleIngestValidation(t *testing.T) {
	srv := newTestServer(t, &mockStore{})

	rec := postJSON(t, srv.handleIngest, "/ingest", ingestRequest{DocID: "d", Text: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank text: status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	srv.handleIngest(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
}

func TestHandleSummarizeTopK(t *testing.T) {
	srv := newTestServer(t, &mockStore{})
	text := strings.Repeat("Daily notes on the patient's condition. ", 60)
	if rec := postJSON(t, srv.handleIngest, "/ingest", ingestRequest{DocID: "d", Text: text}); rec.Code != http.StatusOK {
		t.Fatalf("ingest failed: %s", rec.Body)
	}

	// Absent top_k falls back to the default.
	rec := postJSON(t, srv.handleSummarize, "/rag/summarize", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var out models.RAGSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.ChunkCount != 5 {
		t.Errorf("default top_k used %d chunks, want 5", out.ChunkCount)
	}

	// An explicit zero is clamped to one, not treated as absent.
	rec = postJSON(t, srv.handleSummarize, "/rag/summarize", map[string]any{"top_k": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.ChunkCount != 1 {
		t.Errorf("top_k 0 used %d chunks, want 1", out.ChunkCount)
	}
}

func TestHandleAnswerValidation(t *testing.T) {
	srv := newTestServer(t, &mockStore{})
	rec := postJSON(t, srv.handleAnswer, "/rag/answer", answerRequest{Question: "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank question: status = %d, want 400", rec.Code)
	}
}

func TestHandleDirectGeneration(t *testing.T) {
	srv := newTestServer(t, &mockStore{})

	rec := postJSON(t, srv.handleSummarizeText, "/summarize", textSummaryRequest{Text: "Patient admitted with chest pain."})
	if rec.Code != http.StatusOK {
		t.Fatalf("summarize status = %d: %s", rec.Code, rec.Body)
	}
	var summary models.TextSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if summary.Summary == "" || summary.InputLength == 0 {
		t.Errorf("summary = %+v", summary)
	}

	rec = postJSON(t, srv.handleAnalyzeReport, "/analyze", analyzeRequest{Text: "Take 5mg daily.", Question: "What is the dosage?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d: %s", rec.Code, rec.Body)
	}
	var answer models.ReportAnswer
	if err := json.Unmarshal(rec.Body.Bytes(), &answer); err != nil {
		t.Fatal(err)
	}
	if answer.Question != "What is the dosage?" || answer.Answer == "" {
		t.Errorf("answer = %+v", answer)
	}

	rec = postJSON(t, srv.handleExtractLab, "/extract/lab", labExtractionRequest{Text: "Hemoglobin 13.5 g/dL"})
	if rec.Code != http.StatusOK {
		t.Fatalf("extract status = %d: %s", rec.Code, rec.Body)
	}
	var lab models.LabExtraction
	if err := json.Unmarshal(rec.Body.Bytes(), &lab); err != nil {
		t.Fatal(err)
	}
	if lab.RawResponse == "" || lab.InputLength == 0 {
		t.Errorf("lab = %+v", lab)
	}

	rec = postJSON(t, srv.handleAnalyzeEHR, "/analyze/ehr", ehrAnalysisRequest{EHRText: "2024-01-02: metformin started."})
	if rec.Code != http.StatusOK {
		t.Fatalf("ehr status = %d: %s", rec.Code, rec.Body)
	}
	var ehr models.EHRAnalysis
	if err := json.Unmarshal(rec.Body.Bytes(), &ehr); err != nil {
		t.Fatal(err)
	}
	if ehr.Analysis == "" || ehr.InputLength == 0 {
		t.Errorf("ehr = %+v", ehr)
	}
}

func TestHandleDirectGenerationValidation(t *testing.T) {
	srv := newTestServer(t, &mockStore{})

	tests := []struct {
		name string
		h    http.HandlerFunc
		body any
	}{
		{"summarize blank text", srv.handleSummarizeText, textSummaryRequest{Text: "  "}},
		{"analyze missing question", srv.handleAnalyzeReport, analyzeRequest{Text: "report"}},
		{"analyze missing text", srv.handleAnalyzeReport, analyzeRequest{Question: "q"}},
		{"lab blank text", srv.handleExtractLab, labExtractionRequest{}},
		{"ehr blank text", srv.handleAnalyzeEHR, ehrAnalysisRequest{Query: "q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := postJSON(t, tt.h, "/", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandlePatients(t *testing.T) {
	srv := newTestServer(t, &mockStore{
		listPatientsFunc: func(ctx context.Context) ([]models.Patient, error) {
			return []models.Patient{{ID: 1, Name: "Jane Doe", Age: 34, Gender: "F"}}, nil
		},
		createPatientFunc: func(ctx context.Context, name string, age int, gender string) (models.Patient, error) {
			return models.Patient{ID: 2, Name: name, Age: age, Gender: gender}, nil
		},
	})

	rec := httptest.NewRecorder()
	srv.handleListPatients(rec, httptest.NewRequest(http.MethodGet, "/patients", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var patients []models.Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &patients); err != nil {
		t.Fatal(err)
	}
	if len(patients) != 1 || patients[0].Name != "Jane Doe" {
		t.Errorf("patients = %+v", patients)
	}

	rec = postJSON(t, srv.handleCreatePatient, "/patients", patientRequest{Name: "John Roe", Age: 52, Gender: "M"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}

	rec = postJSON(t, srv.handleCreatePatient, "/patients", patientRequest{Name: "", Age: 52})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty name: status = %d, want 400", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"embedding timeout", rag.WrapEmbedErr(context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"generation timeout", rag.WrapGenerateErr(context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"embedding failure", rag.WrapEmbedErr(errors.New("down")), http.StatusBadGateway},
		{"generation failure", rag.WrapGenerateErr(errors.New("down")), http.StatusBadGateway},
		{"dimension mismatch", rag.ErrDimensionMismatch, http.StatusBadGateway},
		{"chunk config", rag.ErrChunkConfig, http.StatusBadRequest},
		{"unknown", errors.New("misc"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor = %d, want %d", got, tt.want)
			}
		})
	}
}
