package models

import "time"

// Chunk is the atomic unit of indexing and retrieval: a bounded,
// possibly overlapping substring of an ingested document.
type Chunk struct {
	ID        int64     `json:"id"`
	DocID     string    `json:"doc_id"`
	Content   string    `json:"content"`
	CharStart int       `json:"char_start"`
	CharEnd   int       `json:"char_end"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RAGSummary is the fixed-field result of a retrieval-grounded summary.
type RAGSummary struct {
	Summary    string  `json:"summary"`
	ChunksUsed []Chunk `json:"chunks_used"`
	ChunkCount int     `json:"chunk_count"`
}

// RAGAnswer is the fixed-field result of retrieval-grounded QA.
type RAGAnswer struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	ChunksUsed []Chunk `json:"chunks_used"`
	ChunkCount int     `json:"chunk_count"`
}

// Results of direct generation over caller-supplied text, no retrieval
// involved.

type TextSummary struct {
	Summary       string `json:"summary"`
	InputLength   int    `json:"input_length"`
	SummaryLength int    `json:"summary_length"`
}

type ReportAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type LabExtraction struct {
	RawResponse string `json:"raw_response"`
	InputLength int    `json:"input_length"`
}

type EHRAnalysis struct {
	Analysis    string `json:"analysis"`
	InputLength int    `json:"input_length"`
}

type IngestResult struct {
	DocID         string `json:"doc_id"`
	ChunksIndexed int    `json:"chunks_indexed"`
}

// Patient Management System records, persisted in Postgres.

type Patient struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	CreatedAt time.Time `json:"created_at"`
}

type Prescription struct {
	ID         int64     `json:"id"`
	PatientID  int64     `json:"patient_id"`
	DoctorName string    `json:"doctor_name"`
	Diagnosis  string    `json:"diagnosis"`
	Medicines  []string  `json:"medicines"`
	Notes      string    `json:"notes"`
	CreatedAt  time.Time `json:"created_at"`
}

type Report struct {
	ID         int64     `json:"id"`
	PatientID  int64     `json:"patient_id"`
	DoctorName string    `json:"doctor_name"`
	Title      string    `json:"title"`
	FilePath   string    `json:"file_path"`
	CreatedAt  time.Time `json:"created_at"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type DocumentUpload struct {
	Filename      string `json:"filename"`
	FileSize      int    `json:"file_size"`
	Format        string `json:"format"`
	Processed     bool   `json:"processed"`
	ChunksIndexed int    `json:"chunks_indexed"`
	Message       string `json:"message"`
}

type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
