package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docquery/internal/model"
	"github.com/xxxsen/docquery/internal/pkg/dbutil"
)

type PassageRepo struct {
	db *sql.DB
}

func NewPassageRepo(db *sql.DB) *PassageRepo {
	return &PassageRepo{db: db}
}

var passageColumns = []string{
	"id", "document_id", "project_id", "idx", "content",
	"char_count", "start_offset", "end_offset", "ctime",
}

type passageScanner interface {
	Scan(dest ...interface{}) error
}

func scanPassage(s passageScanner) (*model.Passage, error) {
	var p model.Passage
	if err := s.Scan(
		&p.ID, &p.DocumentID, &p.ProjectID, &p.Index, &p.Content,
		&p.CharCount, &p.StartOffset, &p.EndOffset, &p.Ctime,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PassageRepo) CreateBatch(ctx context.Context, passages []model.Passage) error {
	if len(passages) == 0 {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(passages))
	for _, p := range passages {
		rows = append(rows, map[string]interface{}{
			"id":           p.ID,
			"document_id":  p.DocumentID,
			"project_id":   p.ProjectID,
			"idx":          p.Index,
			"content":      p.Content,
			"char_count":   p.CharCount,
			"start_offset": p.StartOffset,
			"end_offset":   p.EndOffset,
			"ctime":        p.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("passages", rows)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *PassageRepo) ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]model.Passage, error) {
	where := map[string]interface{}{
		"document_id": documentID,
		"_orderby":    "idx asc",
	}
	if limit > 0 {
		if offset < 0 {
			offset = 0
		}
		where["_limit"] = []uint{uint(offset), uint(limit)}
	}
	sqlStr, args, err := builder.BuildSelect("passages", where, passageColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	passages := make([]model.Passage, 0)
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		passages = append(passages, *p)
	}
	return passages, rows.Err()
}

func (r *PassageRepo) GetByIDs(ctx context.Context, ids []string) ([]model.Passage, error) {
	if len(ids) == 0 {
		return []model.Passage{}, nil
	}
	query, args, err := dbutil.In(`
		SELECT id, document_id, project_id, idx, content, char_count, start_offset, end_offset, ctime
		FROM passages
		WHERE id IN (?)
	`, ids)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	passages := make([]model.Passage, 0, len(ids))
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		passages = append(passages, *p)
	}
	return passages, rows.Err()
}

func (r *PassageRepo) DeleteByDocument(ctx context.Context, documentID string) error {
	sqlStr, args, err := builder.BuildDelete("passages", map[string]interface{}{"document_id": documentID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *PassageRepo) DeleteByProject(ctx context.Context, projectID string) error {
	sqlStr, args, err := builder.BuildDelete("passages", map[string]interface{}{"project_id": projectID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}
