package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docquery/internal/extract"
	"github.com/xxxsen/docquery/internal/model"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
	"github.com/xxxsen/docquery/internal/pkg/timeutil"
	"github.com/xxxsen/docquery/internal/repo"
)

type DocumentService struct {
	projects *repo.ProjectRepo
	docs     *repo.DocumentRepo
	passages *repo.PassageRepo
	ingest   *IngestService
}

func NewDocumentService(projects *repo.ProjectRepo, docs *repo.DocumentRepo, passages *repo.PassageRepo, ingest *IngestService) *DocumentService {
	return &DocumentService{projects: projects, docs: docs, passages: passages, ingest: ingest}
}

// Upload stores a new document and runs ingestion on it right away. A
// processing failure is reported through the document status, not as an
// error, so the caller still gets the stored document back.
func (s *DocumentService) Upload(ctx context.Context, projectID, filename string, data []byte) (*model.Document, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", appErr.ErrInvalid)
	}
	if _, err := s.projects.GetByID(ctx, projectID); err != nil {
		return nil, err
	}
	mimeType := extract.MimeFromFilename(filename)
	if mimeType == "" {
		return nil, fmt.Errorf("%w: %s", appErr.ErrUnsupportedFormat, filename)
	}
	now := timeutil.NowUnix()
	doc := &model.Document{
		ID:        newID(),
		ProjectID: projectID,
		Filename:  filename,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		Content:   string(data),
		Status:    model.DocumentStatusUploaded,
		Ctime:     now,
		Mtime:     now,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("filename", filename),
		zap.Int64("size", doc.SizeBytes),
	)
	return s.Process(ctx, doc)
}

// Process moves a document through the ingestion pipeline and records the
// resulting status transition. The returned document carries no raw content,
// the chunked text lives in the passages.
func (s *DocumentService) Process(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if err := s.docs.UpdateStatus(ctx, doc.ID, model.DocumentStatusProcessing, "", timeutil.NowUnix()); err != nil {
		return nil, err
	}
	res := s.ingest.Ingest(ctx, doc)
	now := timeutil.NowUnix()
	if res.Status == model.DocumentStatusCompleted {
		if err := s.docs.UpdateIndexed(ctx, doc.ID, res.PassageCount, now); err != nil {
			return nil, err
		}
		doc.PassageCount = res.PassageCount
		doc.ErrorMessage = ""
	} else {
		if err := s.docs.UpdateStatus(ctx, doc.ID, model.DocumentStatusFailed, res.ErrorMessage, now); err != nil {
			return nil, err
		}
		doc.ErrorMessage = res.ErrorMessage
	}
	doc.Status = res.Status
	doc.Mtime = now
	doc.Content = ""
	return doc, nil
}

// Reprocess re-runs ingestion for an already stored document.
func (s *DocumentService) Reprocess(ctx context.Context, projectID, docID string) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, projectID, docID)
	if err != nil {
		return nil, err
	}
	return s.Process(ctx, doc)
}

func (s *DocumentService) Get(ctx context.Context, projectID, docID string) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, projectID, docID)
	if err != nil {
		return nil, err
	}
	doc.Content = ""
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, projectID string, limit, offset int) ([]model.Document, error) {
	if _, err := s.projects.GetByID(ctx, projectID); err != nil {
		return nil, err
	}
	return s.docs.ListByProject(ctx, projectID, limit, offset)
}

func (s *DocumentService) ListPassages(ctx context.Context, projectID, docID string, limit, offset int) ([]model.Passage, error) {
	if _, err := s.docs.GetByID(ctx, projectID, docID); err != nil {
		return nil, err
	}
	return s.passages.ListByDocument(ctx, docID, limit, offset)
}

// Delete removes the document row, its passages and its index entries.
// Index cleanup is best effort once the row is gone.
func (s *DocumentService) Delete(ctx context.Context, projectID, docID string) error {
	if err := s.docs.Delete(ctx, projectID, docID); err != nil {
		return err
	}
	if err := s.passages.DeleteByDocument(ctx, docID); err != nil {
		return err
	}
	if err := s.ingest.RemoveDocument(ctx, docID); err != nil {
		logutil.GetLogger(ctx).Warn("failed to remove document vectors",
			zap.String("document_id", docID),
			zap.Error(err),
		)
	}
	return nil
}
