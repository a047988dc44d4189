package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docquery/internal/model"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
	"github.com/xxxsen/docquery/internal/pkg/timeutil"
	"github.com/xxxsen/docquery/internal/repo"
)

type ProjectService struct {
	projects *repo.ProjectRepo
	docs     *repo.DocumentRepo
	passages *repo.PassageRepo
	queries  *repo.QueryRepo
	ingest   *IngestService
}

func NewProjectService(projects *repo.ProjectRepo, docs *repo.DocumentRepo, passages *repo.PassageRepo, queries *repo.QueryRepo, ingest *IngestService) *ProjectService {
	return &ProjectService{projects: projects, docs: docs, passages: passages, queries: queries, ingest: ingest}
}

func (s *ProjectService) Create(ctx context.Context, name, description string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", appErr.ErrInvalid)
	}
	now := timeutil.NowUnix()
	project := &model.Project{
		ID:          newID(),
		Name:        name,
		Description: description,
		Ctime:       now,
		Mtime:       now,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("project created", zap.String("project_id", project.ID), zap.String("name", name))
	return project, nil
}

func (s *ProjectService) Get(ctx context.Context, id string) (*model.Project, error) {
	project, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := s.docs.CountByProject(ctx, id)
	if err != nil {
		return nil, err
	}
	project.DocumentCount = count
	return project, nil
}

func (s *ProjectService) List(ctx context.Context) ([]model.Project, error) {
	projects, err := s.projects.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		count, err := s.docs.CountByProject(ctx, projects[i].ID)
		if err != nil {
			return nil, err
		}
		projects[i].DocumentCount = count
	}
	return projects, nil
}

// Update changes the fields that were provided and leaves the rest alone.
func (s *ProjectService) Update(ctx context.Context, id string, name, description *string) (*model.Project, error) {
	project, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: project name is required", appErr.ErrInvalid)
		}
		project.Name = trimmed
	}
	if description != nil {
		project.Description = *description
	}
	project.Mtime = timeutil.NowUnix()
	if err := s.projects.Update(ctx, project); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes the project with everything hanging off it, documents,
// passages, query history and index entries included.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if err := s.projects.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.docs.DeleteByProject(ctx, id); err != nil {
		return err
	}
	if err := s.passages.DeleteByProject(ctx, id); err != nil {
		return err
	}
	if err := s.queries.DeleteByProject(ctx, id); err != nil {
		return err
	}
	if err := s.ingest.RemoveProject(ctx, id); err != nil {
		logutil.GetLogger(ctx).Warn("failed to remove project vectors",
			zap.String("project_id", id),
			zap.Error(err),
		)
	}
	logutil.GetLogger(ctx).Info("project deleted", zap.String("project_id", id))
	return nil
}
