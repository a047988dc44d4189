package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docquery/internal/model"
	"github.com/xxxsen/docquery/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
)

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

var documentListColumns = []string{
	"id", "project_id", "filename", "mime_type", "size_bytes",
	"status", "error_message", "passage_count", "ctime", "mtime",
}

type documentScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(s documentScanner, withContent bool) (*model.Document, error) {
	var doc model.Document
	dest := []interface{}{
		&doc.ID, &doc.ProjectID, &doc.Filename, &doc.MimeType, &doc.SizeBytes,
		&doc.Status, &doc.ErrorMessage, &doc.PassageCount, &doc.Ctime, &doc.Mtime,
	}
	if withContent {
		dest = append(dest, &doc.Content)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":            doc.ID,
		"project_id":    doc.ProjectID,
		"filename":      doc.Filename,
		"mime_type":     doc.MimeType,
		"size_bytes":    doc.SizeBytes,
		"content":       doc.Content,
		"status":        doc.Status,
		"error_message": doc.ErrorMessage,
		"passage_count": doc.PassageCount,
		"ctime":         doc.Ctime,
		"mtime":         doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
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

func (r *DocumentRepo) GetByID(ctx context.Context, projectID, docID string) (*model.Document, error) {
	columns := append(append([]string{}, documentListColumns...), "content")
	where := map[string]interface{}{"id": docID, "project_id": projectID}
	sqlStr, args, err := builder.BuildSelect("documents", where, columns)
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
	return scanDocument(rows, true)
}

// ListByProject returns document metadata without the extracted content.
func (r *DocumentRepo) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]model.Document, error) {
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
	sqlStr, args, err := builder.BuildSelect("documents", where, documentListColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows, false)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) CountByProject(ctx context.Context, projectID string) (int64, error) {
	sqlStr, args := dbutil.Finalize("SELECT COUNT(*) FROM documents WHERE project_id = ?", []interface{}{projectID})
	var count int64
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, docID, status, errorMessage string, mtime int64) error {
	where := map[string]interface{}{"id": docID}
	update := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"mtime":         mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// UpdateIndexed marks a document as fully indexed and records how many
// passages it produced.
func (r *DocumentRepo) UpdateIndexed(ctx context.Context, docID string, passageCount int, mtime int64) error {
	where := map[string]interface{}{"id": docID}
	update := map[string]interface{}{
		"status":        model.DocumentStatusCompleted,
		"error_message": "",
		"passage_count": passageCount,
		"mtime":         mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// ListUnprocessed returns documents that never reached a terminal status and
// were last touched before the cutoff.
func (r *DocumentRepo) ListUnprocessed(ctx context.Context, before int64, limit int) ([]model.Document, error) {
	if limit <= 0 {
		limit = 20
	}
	query, args, err := dbutil.In(`
		SELECT id, project_id, filename, mime_type, size_bytes, status, error_message, passage_count, ctime, mtime
		FROM documents
		WHERE status IN (?) AND mtime < ?
		ORDER BY mtime ASC
		LIMIT ?
	`, []string{model.DocumentStatusUploaded, model.DocumentStatusProcessing}, before, limit)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows, false)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) Delete(ctx context.Context, projectID, docID string) error {
	sqlStr, args, err := builder.BuildDelete("documents", map[string]interface{}{"id": docID, "project_id": projectID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) DeleteByProject(ctx context.Context, projectID string) error {
	sqlStr, args, err := builder.BuildDelete("documents", map[string]interface{}{"project_id": projectID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}
