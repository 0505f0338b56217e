package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/perigee-labs/medrag/pkg/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// Storer defines the methods the API layer depends on.
type Storer interface {
	Migrate(ctx context.Context, embedDim int) error

	AppendChunk(ctx context.Context, c models.Chunk) (models.Chunk, error)
	SearchChunks(ctx context.Context, queryVec []float32, k int) ([]models.SearchResult, error)
	CountChunks(ctx context.Context) (int, error)

	ListPatients(ctx context.Context) ([]models.Patient, error)
	CreatePatient(ctx context.Context, name string, age int, gender string) (models.Patient, error)
	ListPrescriptions(ctx context.Context, patientID int64) ([]models.Prescription, error)
	CreatePrescription(ctx context.Context, p models.Prescription) (models.Prescription, error)
	ListReports(ctx context.Context, patientID int64) ([]models.Report, error)
	CreateReport(ctx context.Context, r models.Report) (models.Report, error)

	GetUser(ctx context.Context, username, password string) (models.User, error)
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies the schema: the chunk corpus plus the patient-management
// tables carried over from the original system. embedDim fixes the vector
// column's dimensionality.
func (s *Store) Migrate(ctx context.Context, embedDim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  id         BIGSERIAL PRIMARY KEY,
  doc_id     TEXT NOT NULL,
  content    TEXT NOT NULL,
  char_start INT  NOT NULL,
  char_end   INT  NOT NULL,
  embedding  vector(%d) NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
  CHECK (char_end > char_start)
);

CREATE INDEX IF NOT EXISTS chunks_doc_id_idx
  ON chunks (doc_id);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS users (
  id       BIGSERIAL PRIMARY KEY,
  username TEXT UNIQUE NOT NULL,
  password TEXT NOT NULL,
  role     TEXT NOT NULL CHECK (role IN ('ADMIN','DOCTOR'))
);

CREATE TABLE IF NOT EXISTS patients (
  id         BIGSERIAL PRIMARY KEY,
  name       TEXT NOT NULL,
  age        INT  NOT NULL,
  gender     TEXT NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prescriptions (
  id          BIGSERIAL PRIMARY KEY,
  patient_id  BIGINT NOT NULL REFERENCES patients(id),
  doctor_name TEXT NOT NULL,
  diagnosis   TEXT NOT NULL,
  medicines   JSONB NOT NULL DEFAULT '[]',
  notes       TEXT NOT NULL DEFAULT '',
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reports (
  id          BIGSERIAL PRIMARY KEY,
  patient_id  BIGINT NOT NULL REFERENCES patients(id),
  doctor_name TEXT NOT NULL,
  title       TEXT NOT NULL,
  file_path   TEXT NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);
`
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(q, embedDim)); err != nil {
		return err
	}
	return s.seedUsers(ctx)
}

// seedUsers inserts the default credentials if they are missing. Plain-text
// passwords match the original system's demo accounts.
func (s *Store) seedUsers(ctx context.Context) error {
	for _, u := range [][3]string{
		{"admin", "admin123", "ADMIN"},
		{"doctor", "doctor123", "DOCTOR"},
		{"drsmith", "smith123", "DOCTOR"},
	} {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO users (username, password, role) VALUES ($1,$2,$3) ON CONFLICT (username) DO NOTHING`,
			u[0], u[1], u[2])
		if err != nil {
			return err
		}
	}
	return nil
}

// AppendChunk inserts a chunk and returns it with its database-assigned id
// and timestamp. Chunks are append-only; there is no update path.
func (s *Store) AppendChunk(ctx context.Context, c models.Chunk) (models.Chunk, error) {
	const q = `
		INSERT INTO chunks (doc_id, content, char_start, char_end, embedding)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`
	err := s.pool.QueryRow(ctx, q,
		c.DocID, c.Content, c.CharStart, c.CharEnd, pgvector.NewVector(c.Embedding),
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return models.Chunk{}, err
	}
	return c, nil
}

// SearchChunks returns the k nearest chunks by cosine similarity, ties
// broken by lower chunk id.
func (s *Store) SearchChunks(ctx context.Context, queryVec []float32, k int) ([]models.SearchResult, error) {
	const q = `
		SELECT id, doc_id, content, char_start, char_end, created_at,
		       1 - (embedding <=> $1) AS score
		FROM chunks
		ORDER BY score DESC, id ASC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SearchResult{}
	for rows.Next() {
		var c models.Chunk
		var score float64
		if err := rows.Scan(&c.ID, &c.DocID, &c.Content, &c.CharStart, &c.CharEnd, &c.CreatedAt, &score); err != nil {
			return nil, err
		}
		out = append(out, models.SearchResult{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n)
	return n, err
}

// ---------- patient management ----------

func (s *Store) ListPatients(ctx context.Context) ([]models.Patient, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, age, gender, created_at FROM patients ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Patient{}
	for rows.Next() {
		var p models.Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreatePatient(ctx context.Context, name string, age int, gender string) (models.Patient, error) {
	var p models.Patient
	err := s.pool.QueryRow(ctx,
		`INSERT INTO patients (name, age, gender) VALUES ($1,$2,$3)
		 RETURNING id, name, age, gender, created_at`,
		name, age, gender,
	).Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &p.CreatedAt)
	if err != nil {
		return models.Patient{}, err
	}
	return p, nil
}

func (s *Store) ListPrescriptions(ctx context.Context, patientID int64) ([]models.Prescription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, patient_id, doctor_name, diagnosis, medicines, notes, created_at
		 FROM prescriptions WHERE patient_id=$1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Prescription{}
	for rows.Next() {
		var p models.Prescription
		if err := rows.Scan(&p.ID, &p.PatientID, &p.DoctorName, &p.Diagnosis, &p.Medicines, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreatePrescription(ctx context.Context, p models.Prescription) (models.Prescription, error) {
	if p.Medicines == nil {
		p.Medicines = []string{}
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO prescriptions (patient_id, doctor_name, diagnosis, medicines, notes)
		 VALUES ($1,$2,$3,$4,$5)
		 RETURNING id, created_at`,
		p.PatientID, p.DoctorName, p.Diagnosis, p.Medicines, p.Notes,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return models.Prescription{}, err
	}
	return p, nil
}

func (s *Store) ListReports(ctx context.Context, patientID int64) ([]models.Report, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, patient_id, doctor_name, title, file_path, created_at
		 FROM reports WHERE patient_id=$1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Report{}
	for rows.Next() {
		var r models.Report
		if err := rows.Scan(&r.ID, &r.PatientID, &r.DoctorName, &r.Title, &r.FilePath, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateReport(ctx context.Context, r models.Report) (models.Report, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO reports (patient_id, doctor_name, title, file_path)
		 VALUES ($1,$2,$3,$4)
		 RETURNING id, created_at`,
		r.PatientID, r.DoctorName, r.Title, r.FilePath,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return models.Report{}, err
	}
	return r, nil
}

// GetUser checks credentials against the users table.
func (s *Store) GetUser(ctx context.Context, username, password string) (models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, role FROM users WHERE username=$1 AND password=$2`,
		username, password,
	).Scan(&u.ID, &u.Username, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}
	return u, nil
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
