package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docquery/internal/model"
	"github.com/xxxsen/docquery/internal/pkg/timeutil"
	"github.com/xxxsen/docquery/internal/repo"
	"github.com/xxxsen/docquery/internal/service"
)

// DocumentProcessJob retries documents that never reached a terminal status,
// usually because the process died mid ingestion. Only documents untouched
// for staleSeconds are picked up so in-flight uploads are left alone.
type DocumentProcessJob struct {
	docs         *repo.DocumentRepo
	documents    *service.DocumentService
	staleSeconds int64
	batchSize    int
}

func NewDocumentProcessJob(docs *repo.DocumentRepo, documents *service.DocumentService, staleSeconds int64, batchSize int) *DocumentProcessJob {
	return &DocumentProcessJob{docs: docs, documents: documents, staleSeconds: staleSeconds, batchSize: batchSize}
}

func (j *DocumentProcessJob) Name() string {
	return "document_process"
}

func (j *DocumentProcessJob) Run(ctx context.Context) error {
	if j.docs == nil || j.documents == nil {
		return nil
	}
	staleSeconds := j.staleSeconds
	if staleSeconds <= 0 {
		staleSeconds = 300
	}
	before := timeutil.NowUnix() - staleSeconds
	docs, err := j.docs.ListUnprocessed(ctx, before, j.batchSize)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	recovered := 0
	for i := range docs {
		doc, err := j.documents.Reprocess(ctx, docs[i].ProjectID, docs[i].ID)
		if err != nil {
			logutil.GetLogger(ctx).Error("reprocess stuck document failed",
				zap.String("document_id", docs[i].ID),
				zap.Error(err),
			)
			continue
		}
		if doc.Status == model.DocumentStatusCompleted {
			recovered++
		}
	}
	logutil.GetLogger(ctx).Info("stuck documents reprocessed",
		zap.Int("picked", len(docs)),
		zap.Int("recovered", recovered),
	)
	return nil
}
