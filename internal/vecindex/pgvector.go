package vecindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/docquery/internal/config"
	"github.com/xxxsen/docquery/internal/db"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
)

type pgvectorConfig struct {
	DB    config.DatabaseConfig `json:"db"`
	Table string                `json:"table"`
}

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// pgvectorIndex keeps points in one Postgres table with a vector column.
// Cosine similarity is computed as 1 - (embedding <=> query).
type pgvectorIndex struct {
	db    *sql.DB
	table string

	mu        sync.RWMutex
	dimension int
}

func NewPgvector(pool *sql.DB, table string) (Index, error) {
	if table == "" {
		table = "vector_points"
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", appErr.ErrInvalid, table)
	}
	return &pgvectorIndex{db: pool, table: table}, nil
}

func (s *pgvectorIndex) Create(ctx context.Context, dimension int, metric string) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", appErr.ErrInvalid)
	}
	if metric != MetricCosine {
		return fmt.Errorf("%w: unsupported metric %q", appErr.ErrInvalid, metric)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	var reg sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT to_regclass($1)", s.table).Scan(&reg); err != nil {
		return err
	}
	if reg.Valid {
		const query = `
			SELECT atttypmod
			FROM pg_attribute
			WHERE attrelid = $1::regclass AND attname = 'embedding' AND NOT attisdropped
		`
		var typmod int
		if err := s.db.QueryRowContext(ctx, query, s.table).Scan(&typmod); err != nil {
			return err
		}
		if typmod != dimension {
			return fmt.Errorf("%w: table %s has dimension %d, requested %d",
				appErr.ErrDimensionMismatch, s.table, typmod, dimension)
		}
		s.setDimension(dimension)
		return nil
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			extra JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL
		)`, s.table, dimension)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_project_idx ON %s (project_id)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return err
		}
	}
	s.setDimension(dimension)
	return nil
}

func (s *pgvectorIndex) setDimension(dimension int) {
	s.mu.Lock()
	s.dimension = dimension
	s.mu.Unlock()
}

func (s *pgvectorIndex) knownDimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *pgvectorIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if dim := s.knownDimension(); dim != 0 {
		for _, p := range points {
			if len(p.Vector) != dim {
				return fmt.Errorf("%w: vector for %s has length %d, index dimension is %d",
					appErr.ErrInvalid, p.ID, len(p.Vector), dim)
			}
		}
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, project_id, document_id, content, extra, embedding)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		ON CONFLICT (id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			document_id = EXCLUDED.document_id,
			content = EXCLUDED.content,
			extra = EXCLUDED.extra,
			embedding = EXCLUDED.embedding
	`, s.table)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range points {
		extra := []byte("{}")
		if len(p.Payload.Extra) > 0 {
			extra, err = json.Marshal(p.Payload.Extra)
			if err != nil {
				return err
			}
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID,
			p.Payload.ProjectID,
			p.Payload.DocumentID,
			p.Payload.Content,
			string(extra),
			pgvector.NewVector(p.Vector),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *pgvectorIndex) Search(ctx context.Context, vector []float32, q Query) ([]Hit, error) {
	if dim := s.knownDimension(); dim != 0 && len(vector) != dim {
		return nil, fmt.Errorf("%w: query vector has length %d, index dimension is %d",
			appErr.ErrDimensionMismatch, len(vector), dim)
	}
	topK := q.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	conds := []string{"(1 - (embedding <=> $1)) >= $2"}
	args := []interface{}{pgvector.NewVector(vector), q.ScoreThreshold}
	n := 3
	for _, key := range sortedFilterKeys(q.Filter) {
		value := q.Filter[key]
		switch key {
		case FilterProjectID:
			conds = append(conds, fmt.Sprintf("project_id = $%d", n))
			args = append(args, value)
			n++
		case FilterDocumentID:
			conds = append(conds, fmt.Sprintf("document_id = $%d", n))
			args = append(args, value)
			n++
		default:
			conds = append(conds, fmt.Sprintf("extra->>$%d = $%d", n, n+1))
			args = append(args, key, value)
			n += 2
		}
	}
	query := fmt.Sprintf(`
		SELECT id, project_id, document_id, content, extra, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE %s
		ORDER BY score DESC, id ASC
		LIMIT $%d
	`, s.table, strings.Join(conds, " AND "), n)
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var hit Hit
		var extraRaw []byte
		var score float64
		if err := rows.Scan(&hit.ID, &hit.Payload.ProjectID, &hit.Payload.DocumentID,
			&hit.Payload.Content, &extraRaw, &score); err != nil {
			return nil, err
		}
		if len(extraRaw) > 0 && string(extraRaw) != "{}" {
			if err := json.Unmarshal(extraRaw, &hit.Payload.Extra); err != nil {
				return nil, err
			}
		}
		hit.Score = float32(score)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (s *pgvectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table)
	_, err := s.db.ExecContext(ctx, query, pq.Array(ids))
	return err
}

func (s *pgvectorIndex) DeleteByFilter(ctx context.Context, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: refusing delete with empty filter", appErr.ErrInvalid)
	}
	var conds []string
	var args []interface{}
	n := 1
	for _, key := range sortedFilterKeys(filter) {
		value := filter[key]
		switch key {
		case FilterProjectID:
			conds = append(conds, fmt.Sprintf("project_id = $%d", n))
			args = append(args, value)
			n++
		case FilterDocumentID:
			conds = append(conds, fmt.Sprintf("document_id = $%d", n))
			args = append(args, value)
			n++
		default:
			conds = append(conds, fmt.Sprintf("extra->>$%d = $%d", n, n+1))
			args = append(args, key, value)
			n += 2
		}
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s`, s.table, strings.Join(conds, " AND "))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func sortedFilterKeys(filter Filter) []string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	Register("pgvector", func(args interface{}) (Index, error) {
		cfg := &pgvectorConfig{}
		if err := decodeConfig(args, cfg); err != nil {
			return nil, err
		}
		pool, err := db.Open(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("open pgvector database: %w", err)
		}
		return NewPgvector(pool, cfg.Table)
	})
}
