package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docquery/internal/model"
	"github.com/xxxsen/docquery/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
)

type QueryRepo struct {
	db *sql.DB
}

func NewQueryRepo(db *sql.DB) *QueryRepo {
	return &QueryRepo{db: db}
}

var queryColumns = []string{
	"id", "project_id", "query_text", "answer", "outcome", "citations",
	"context_passage_count", "model", "elapsed_ms", "ctime",
}

type queryScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueryRecord(s queryScanner) (*model.QueryRecord, error) {
	var rec model.QueryRecord
	var citationsJSON string
	if err := s.Scan(
		&rec.ID, &rec.ProjectID, &rec.QueryText, &rec.Answer, &rec.Outcome, &citationsJSON,
		&rec.ContextPassageCount, &rec.Model, &rec.ElapsedMs, &rec.Ctime,
	); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(citationsJSON), &rec.Citations)
	return &rec, nil
}

func (r *QueryRepo) Create(ctx context.Context, rec *model.QueryRecord) error {
	citationsJSON, _ := json.Marshal(rec.Citations)
	data := map[string]interface{}{
		"id":                    rec.ID,
		"project_id":            rec.ProjectID,
		"query_text":            rec.QueryText,
		"answer":                rec.Answer,
		"outcome":               rec.Outcome,
		"citations":             string(citationsJSON),
		"context_passage_count": rec.ContextPassageCount,
		"model":                 rec.Model,
		"elapsed_ms":            rec.ElapsedMs,
		"ctime":                 rec.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("queries", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *QueryRepo) GetByID(ctx context.Context, projectID, queryID string) (*model.QueryRecord, error) {
	where := map[string]interface{}{"id": queryID, "project_id": projectID}
	sqlStr, args, err := builder.BuildSelect("queries", where, queryColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanQueryRecord(rows)
}

func (r *QueryRepo) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]model.QueryRecord, error) {
	where := map[string]interface{}{
		"project_id": projectID,
		"_orderby":   "ctime desc",
	}
	if limit > 0 {
		if offset < 0 {
			offset = 0
		}
		where["_limit"] = []uint{uint(offset), uint(limit)}
	}
	sqlStr, args, err := builder.BuildSelect("queries", where, queryColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := make([]model.QueryRecord, 0)
	for rows.Next() {
		rec, err := scanQueryRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (r *QueryRepo) DeleteByProject(ctx context.Context, projectID string) error {
	sqlStr, args, err := builder.BuildDelete("queries", map[string]interface{}{"project_id": projectID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}
