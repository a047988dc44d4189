package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docquery/internal/chunker"
	"github.com/xxxsen/docquery/internal/extract"
	"github.com/xxxsen/docquery/internal/model"
	"github.com/xxxsen/docquery/internal/pkg/timeutil"
	"github.com/xxxsen/docquery/internal/repo"
	"github.com/xxxsen/docquery/internal/vecindex"
)

// IngestResult describes the outcome of one ingestion run. Failures are
// folded into the status so callers can record the transition themselves.
type IngestResult struct {
	Status       string
	ErrorMessage string
	PassageCount int
}

type IngestService struct {
	passages   *repo.PassageRepo
	chunker    *chunker.Chunker
	vectorizer *Vectorizer
}

func NewIngestService(passages *repo.PassageRepo, ck *chunker.Chunker, vectorizer *Vectorizer) *IngestService {
	return &IngestService{passages: passages, chunker: ck, vectorizer: vectorizer}
}

// ProcessDocument splits extracted text into passages. No state is touched.
func (s *IngestService) ProcessDocument(ctx context.Context, text string) ([]*model.Passage, error) {
	return s.chunker.Chunk(ctx, text)
}

// IndexDocument replaces the indexed entries for a document with the given
// passages. Embeddings are fetched before anything is deleted, so an embed
// failure leaves the previous index state untouched.
func (s *IngestService) IndexDocument(ctx context.Context, projectID, documentID string, passages []*model.Passage) error {
	filter := vecindex.Filter{vecindex.FilterDocumentID: documentID}
	if len(passages) == 0 {
		return s.vectorizer.Index().DeleteByFilter(ctx, filter)
	}
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Content)
	}
	vecs, err := s.vectorizer.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	points := make([]vecindex.Point, 0, len(passages))
	for i, p := range passages {
		points = append(points, vecindex.Point{
			ID:     p.ID,
			Vector: vecs[i],
			Payload: vecindex.Payload{
				ProjectID:  projectID,
				DocumentID: documentID,
				Content:    p.Content,
			},
		})
	}
	if err := s.vectorizer.Index().DeleteByFilter(ctx, filter); err != nil {
		return err
	}
	return s.vectorizer.Index().Upsert(ctx, points)
}

// Ingest runs the full pipeline for one document: extract, chunk, persist
// passages, index.
func (s *IngestService) Ingest(ctx context.Context, doc *model.Document) *IngestResult {
	text, err := extract.Text(ctx, []byte(doc.Content), doc.MimeType)
	if err != nil {
		return s.fail(ctx, doc.ID, "extract content", err)
	}
	passages, err := s.ProcessDocument(ctx, text)
	if err != nil {
		return s.fail(ctx, doc.ID, "chunk content", err)
	}
	now := timeutil.NowUnix()
	for _, p := range passages {
		p.ID = newID()
		p.DocumentID = doc.ID
		p.ProjectID = doc.ProjectID
		p.Ctime = now
	}
	if err := s.passages.DeleteByDocument(ctx, doc.ID); err != nil {
		return s.fail(ctx, doc.ID, "clear old passages", err)
	}
	rows := make([]model.Passage, 0, len(passages))
	for _, p := range passages {
		rows = append(rows, *p)
	}
	if err := s.passages.CreateBatch(ctx, rows); err != nil {
		return s.fail(ctx, doc.ID, "store passages", err)
	}
	if err := s.IndexDocument(ctx, doc.ProjectID, doc.ID, passages); err != nil {
		return s.fail(ctx, doc.ID, "index passages", err)
	}
	logutil.GetLogger(ctx).Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.Int("passages", len(passages)),
	)
	return &IngestResult{Status: model.DocumentStatusCompleted, PassageCount: len(passages)}
}

// RemoveDocument drops a document's entries from the vector index.
func (s *IngestService) RemoveDocument(ctx context.Context, documentID string) error {
	return s.vectorizer.Index().DeleteByFilter(ctx, vecindex.Filter{vecindex.FilterDocumentID: documentID})
}

// RemoveProject drops every indexed entry belonging to a project.
func (s *IngestService) RemoveProject(ctx context.Context, projectID string) error {
	return s.vectorizer.Index().DeleteByFilter(ctx, vecindex.Filter{vecindex.FilterProjectID: projectID})
}

func (s *IngestService) fail(ctx context.Context, docID, stage string, err error) *IngestResult {
	logutil.GetLogger(ctx).Error("document ingest failed",
		zap.String("document_id", docID),
		zap.String("stage", stage),
		zap.Error(err),
	)
	return &IngestResult{
		Status:       model.DocumentStatusFailed,
		ErrorMessage: stage + ": " + err.Error(),
	}
}
