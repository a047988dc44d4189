package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docquery/internal/model"
	"github.com/xxxsen/docquery/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
)

type ProjectRepo struct {
	db *sql.DB
}

func NewProjectRepo(db *sql.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

func (r *ProjectRepo) Create(ctx context.Context, project *model.Project) error {
	data := map[string]interface{}{
		"id":          project.ID,
		"name":        project.Name,
		"description": project.Description,
		"ctime":       project.Ctime,
		"mtime":       project.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("projects", []map[string]interface{}{data})
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

func (r *ProjectRepo) Update(ctx context.Context, project *model.Project) error {
	where := map[string]interface{}{"id": project.ID}
	update := map[string]interface{}{
		"name":        project.Name,
		"description": project.Description,
		"mtime":       project.Mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("projects", where, update)
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

func (r *ProjectRepo) Delete(ctx context.Context, projectID string) error {
	sqlStr, args, err := builder.BuildDelete("projects", map[string]interface{}{"id": projectID})
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

func (r *ProjectRepo) GetByID(ctx context.Context, projectID string) (*model.Project, error) {
	sqlStr, args, err := builder.BuildSelect("projects", map[string]interface{}{"id": projectID}, []string{
		"id", "name", "description", "ctime", "mtime",
	})
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
	var project model.Project
	if err := rows.Scan(&project.ID, &project.Name, &project.Description, &project.Ctime, &project.Mtime); err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *ProjectRepo) List(ctx context.Context) ([]model.Project, error) {
	sqlStr, args, err := builder.BuildSelect("projects", map[string]interface{}{"_orderby": "mtime desc"}, []string{
		"id", "name", "description", "ctime", "mtime",
	})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	projects := make([]model.Project, 0)
	for rows.Next() {
		var project model.Project
		if err := rows.Scan(&project.ID, &project.Name, &project.Description, &project.Ctime, &project.Mtime); err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}
