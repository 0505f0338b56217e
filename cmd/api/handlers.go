package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/perigee-labs/medrag/internal/auth"
	"github.com/perigee-labs/medrag/internal/extract"
	"github.com/perigee-labs/medrag/internal/rag"
	"github.com/perigee-labs/medrag/internal/store"
	"github.com/perigee-labs/medrag/pkg/models"
)

// maxUploadBytes bounds multipart report uploads.
const maxUploadBytes = 32 << 20

type server struct {
	pipeline  *rag.Pipeline
	store     store.Storer
	auth      *auth.Service
	uploadDir string
	log       zerolog.Logger
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ingestRequest struct {
	DocID string `json:"doc_id"`
	Text  string `json:"text"`
}

type summarizeRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

type answerRequest struct {
	Question string `json:"question"`
	TopK     *int   `json:"top_k"`
}

type textSummaryRequest struct {
	Text        string  `json:"text"`
	MaxLength   int     `json:"max_length"`
	Temperature float32 `json:"temperature"`
}

type analyzeRequest struct {
	Text     string `json:"text"`
	Question string `json:"question"`
}

type labExtractionRequest struct {
	Text string `json:"text"`
}

type ehrAnalysisRequest struct {
	EHRText string `json:"ehr_text"`
	Query   string `json:"query"`
}

type patientRequest struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.pipeline.Index().Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "index unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"chunks": n,
	})
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	user, err := s.store.GetUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed", err)
		return
	}

	resp := auth.LoginResponse{Username: user.Username, Role: user.Role}
	if s.auth.Enabled() {
		token, err := s.auth.GenerateToken(user)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token generation failed", err)
			return
		}
		resp.Token = token
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleIngest chunks and indexes raw text. Ingestion is not transactional;
// on failure the response still reports how many chunks made it in.
func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required", nil)
		return
	}
	docID := req.DocID
	if docID == "" {
		docID = fmt.Sprintf("doc-%d", time.Now().UnixNano())
	}

	count, err := s.pipeline.Ingest(r.Context(), docID, req.Text)
	if err != nil {
		s.log.Error().Err(err).Str("doc_id", docID).Int("chunks", count).Msg("partial ingest")
		writeJSON(w, statusFor(err), map[string]any{
			"error":          "ingest failed",
			"message":        err.Error(),
			"doc_id":         docID,
			"chunks_indexed": count,
		})
		return
	}
	writeJSON(w, http.StatusOK, models.IngestResult{DocID: docID, ChunksIndexed: count})
}

// handleUploadDocument accepts a multipart file, extracts its text and
// ingests it under the filename as doc id.
func (s *server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required", err)
		return
	}
	defer file.Close()

	if !extract.Supported(header.Filename) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported document format", extract.ErrUnsupportedFormat)
		return
	}

	path, size, err := s.saveUpload(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload", err)
		return
	}

	text, err := extract.Text(path)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "text extraction failed", err)
		return
	}
	if strings.TrimSpace(text) == "" {
		writeJSON(w, http.StatusOK, models.DocumentUpload{
			Filename: header.Filename,
			FileSize: size,
			Format:   strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), "."),
			Message:  "document contained no extractable text",
		})
		return
	}

	count, err := s.pipeline.Ingest(r.Context(), header.Filename, text)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{
			"error":          "ingest failed",
			"message":        err.Error(),
			"filename":       header.Filename,
			"chunks_indexed": count,
		})
		return
	}

	writeJSON(w, http.StatusOK, models.DocumentUpload{
		Filename:      header.Filename,
		FileSize:      size,
		Format:        strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), "."),
		Processed:     true,
		ChunksIndexed: count,
		Message:       "document indexed",
	})
}

func (s *server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	out, err := s.pipeline.Summarize(r.Context(), req.Query, req.TopK)
	if err != nil {
		writeError(w, statusFor(err), "summarization failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required", nil)
		return
	}

	out, err := s.pipeline.Answer(r.Context(), req.Question, req.TopK)
	if err != nil {
		writeError(w, statusFor(err), "answer generation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------- direct generation (no retrieval) ----------

func (s *server) handleSummarizeText(w http.ResponseWriter, r *http.Request) {
	var req textSummaryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required", nil)
		return
	}

	out, err := s.pipeline.SummarizeText(r.Context(), req.Text, req.MaxLength, req.Temperature)
	if err != nil {
		writeError(w, statusFor(err), "summarization failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleAnalyzeReport(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "text and question are required", nil)
		return
	}

	out, err := s.pipeline.AnalyzeReport(r.Context(), req.Text, req.Question)
	if err != nil {
		writeError(w, statusFor(err), "analysis failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleExtractLab(w http.ResponseWriter, r *http.Request) {
	var req labExtractionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required", nil)
		return
	}

	out, err := s.pipeline.ExtractLabData(r.Context(), req.Text)
	if err != nil {
		writeError(w, statusFor(err), "lab extraction failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleAnalyzeEHR(w http.ResponseWriter, r *http.Request) {
	var req ehrAnalysisRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.EHRText) == "" {
		writeError(w, http.StatusBadRequest, "ehr_text is required", nil)
		return
	}

	out, err := s.pipeline.AnalyzeEHR(r.Context(), req.EHRText, req.Query)
	if err != nil {
		writeError(w, statusFor(err), "ehr analysis failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------- patient management ----------

func (s *server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := s.store.ListPatients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list patients", err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

func (s *server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.Age <= 0 {
		writeError(w, http.StatusBadRequest, "name and a positive age are required", nil)
		return
	}

	p, err := s.store.CreatePatient(r.Context(), req.Name, req.Age, req.Gender)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create patient", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) handleListPrescriptions(w http.ResponseWriter, r *http.Request) {
	patientID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid patient id", err)
		return
	}
	out, err := s.store.ListPrescriptions(r.Context(), patientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list prescriptions", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleCreatePrescription(w http.ResponseWriter, r *http.Request) {
	var req models.Prescription
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.PatientID <= 0 || strings.TrimSpace(req.Diagnosis) == "" {
		writeError(w, http.StatusBadRequest, "patient_id and diagnosis are required", nil)
		return
	}
	if user, ok := auth.UserFromContext(r); ok && req.DoctorName == "" {
		req.DoctorName = user.Username
	}

	out, err := s.store.CreatePrescription(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create prescription", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *server) handleListReports(w http.ResponseWriter, r *http.Request) {
	patientID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid patient id", err)
		return
	}
	out, err := s.store.ListReports(r.Context(), patientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list reports", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUploadReport stores a report file against a patient. The file is
// kept on disk and referenced by path; it is not indexed automatically.
func (s *server) handleUploadReport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", err)
		return
	}

	patientID, err := strconv.ParseInt(r.FormValue("patient_id"), 10, 64)
	if err != nil || patientID <= 0 {
		writeError(w, http.StatusBadRequest, "valid patient_id is required", err)
		return
	}
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required", nil)
		return
	}
	doctorName := r.FormValue("doctor_name")
	if user, ok := auth.UserFromContext(r); ok && doctorName == "" {
		doctorName = user.Username
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required", err)
		return
	}
	defer file.Close()

	name := fmt.Sprintf("%d_%s", patientID, filepath.Base(header.Filename))
	path, _, err := s.saveUpload(file, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload", err)
		return
	}

	report, err := s.store.CreateReport(r.Context(), models.Report{
		PatientID:  patientID,
		DoctorName: doctorName,
		Title:      title,
		FilePath:   path,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create report", err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.PathValue("filename"))
	if name == "." || name == "/" || name == "" {
		writeError(w, http.StatusBadRequest, "invalid filename", nil)
		return
	}
	path := filepath.Join(s.uploadDir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "file not found", nil)
		return
	}
	http.ServeFile(w, r, path)
}

// ---------- helpers ----------

func (s *server) saveUpload(src io.Reader, name string) (string, int, error) {
	path := filepath.Join(s.uploadDir, filepath.Base(name))
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, int(n), nil
}

func decodeJSON(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(into)
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(r.PathValue(key), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	e := models.APIError{Error: msg}
	if err != nil {
		e.Message = err.Error()
	}
	writeJSON(w, status, e)
}

// statusFor maps pipeline failures to HTTP statuses: collaborator timeouts
// to 504, other collaborator failures to 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrEmbeddingTimeout), errors.Is(err, rag.ErrGenerationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, rag.ErrEmbedding), errors.Is(err, rag.ErrGeneration), errors.Is(err, rag.ErrDimensionMismatch):
		return http.StatusBadGateway
	case errors.Is(err, rag.ErrChunkConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
