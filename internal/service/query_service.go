package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docquery/internal/ai"
	"github.com/xxxsen/docquery/internal/model"
	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
	"github.com/xxxsen/docquery/internal/pkg/timeutil"
	"github.com/xxxsen/docquery/internal/repo"
	"github.com/xxxsen/docquery/internal/vecindex"
)

const (
	noResultsAnswer      = "I couldn't find any relevant information in your documents to answer this question."
	degradedAnswerPrefix = "Found relevant information but encountered an error generating the response: "
	excerptRuneLimit     = 200
)

type QueryServiceConfig struct {
	TopK           int
	ScoreThreshold float32
	DefaultModel   string
	Timeout        int
	CacheSize      int
	CacheTTL       time.Duration
}

type AnswerInput struct {
	ProjectID      string
	QueryText      string
	TopK           int
	ScoreThreshold *float32
	Model          string
}

type QueryService struct {
	projects   *repo.ProjectRepo
	passages   *repo.PassageRepo
	queries    *repo.QueryRepo
	vectorizer *Vectorizer
	generator  ai.IGenerator
	byModel    map[string]ai.IGenerator
	cfg        QueryServiceConfig
	cache      *expirable.LRU[string, *model.RetrievalResult]
}

// NewQueryService wires retrieval and generation. The generator entries keep
// their failover order for the default model; a request naming a specific
// model is routed to that entry alone.
func NewQueryService(
	projects *repo.ProjectRepo,
	passages *repo.PassageRepo,
	queries *repo.QueryRepo,
	vectorizer *Vectorizer,
	generators []ai.GeneratorEntry,
	cfg QueryServiceConfig,
) *QueryService {
	byModel := make(map[string]ai.IGenerator, len(generators))
	for _, entry := range generators {
		if entry.Name == "" || entry.Generator == nil {
			continue
		}
		byModel[entry.Name] = entry.Generator
	}
	s := &QueryService{
		projects:   projects,
		passages:   passages,
		queries:    queries,
		vectorizer: vectorizer,
		generator:  ai.NewGroupGenerator(generators),
		byModel:    byModel,
		cfg:        cfg,
	}
	if cfg.CacheSize > 0 && cfg.CacheTTL > 0 {
		s.cache = expirable.NewLRU[string, *model.RetrievalResult](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return s
}

// Answer runs retrieval and generation for one question. Retrieval failures
// surface as errors; generation failures degrade the answer but keep the
// citations that retrieval already produced.
func (s *QueryService) Answer(ctx context.Context, input AnswerInput) (*model.RetrievalResult, error) {
	query := strings.TrimSpace(input.QueryText)
	if query == "" {
		return nil, fmt.Errorf("%w: query text is empty", appErr.ErrInvalid)
	}
	topK := input.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	threshold := s.cfg.ScoreThreshold
	if input.ScoreThreshold != nil {
		threshold = *input.ScoreThreshold
	}
	modelName := input.Model
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}

	cacheKey := answerCacheKey(input.ProjectID, query, topK, threshold, modelName)
	if s.cache != nil {
		if res, ok := s.cache.Get(cacheKey); ok {
			logutil.GetLogger(ctx).Debug("answer cache hit", zap.String("project_id", input.ProjectID))
			return res, nil
		}
	}

	start := time.Now()
	vec, err := s.vectorizer.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.vectorizer.Index().Search(ctx, vec, vecindex.Query{
		Filter:         vecindex.Filter{vecindex.FilterProjectID: input.ProjectID},
		TopK:           topK,
		ScoreThreshold: threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	result := &model.RetrievalResult{
		Model:     modelName,
		Citations: []model.Citation{},
	}
	if len(hits) == 0 {
		logutil.GetLogger(ctx).Warn("no passages above threshold",
			zap.String("project_id", input.ProjectID),
			zap.Float64("threshold", float64(threshold)),
		)
		result.Outcome = model.OutcomeNoResults
		result.Answer = noResultsAnswer
		result.ElapsedMs = time.Since(start).Milliseconds()
		return result, nil
	}

	contents, err := s.LoadPassageContent(ctx, hits)
	if err != nil {
		return nil, fmt.Errorf("load passage content: %w", err)
	}

	contexts := make([]string, 0, len(hits))
	for i, hit := range hits {
		content, ok := contents[hit.ID]
		if !ok || content == "" {
			continue
		}
		contexts = append(contexts, content)
		result.Citations = append(result.Citations, model.Citation{
			PassageID:  hit.ID,
			DocumentID: hit.Payload.DocumentID,
			Score:      hit.Score,
			Rank:       i + 1,
			Excerpt:    excerpt(content),
		})
	}
	if len(contexts) == 0 {
		result.Outcome = model.OutcomeNoResults
		result.Answer = noResultsAnswer
		result.ElapsedMs = time.Since(start).Milliseconds()
		return result, nil
	}
	result.ContextPassageCount = len(contexts)

	answer, err := s.generate(ctx, modelName, buildPrompt(query, contexts))
	if err != nil {
		logutil.GetLogger(ctx).Error("answer generation failed",
			zap.String("project_id", input.ProjectID),
			zap.Error(err),
		)
		result.Outcome = model.OutcomeDegraded
		result.Answer = degradedAnswerPrefix + err.Error()
		result.ElapsedMs = time.Since(start).Milliseconds()
		return result, nil
	}
	result.Outcome = model.OutcomeAnswered
	result.Answer = answer
	result.ElapsedMs = time.Since(start).Milliseconds()
	logutil.GetLogger(ctx).Info("query answered",
		zap.String("project_id", input.ProjectID),
		zap.Int("context_passages", result.ContextPassageCount),
		zap.Int64("elapsed_ms", result.ElapsedMs),
	)
	if s.cache != nil {
		s.cache.Add(cacheKey, result)
	}
	return result, nil
}

// Submit checks the project, answers the question and records it in the
// query history.
func (s *QueryService) Submit(ctx context.Context, input AnswerInput) (*model.QueryRecord, error) {
	if _, err := s.projects.GetByID(ctx, input.ProjectID); err != nil {
		return nil, err
	}
	result, err := s.Answer(ctx, input)
	if err != nil {
		return nil, err
	}
	rec := &model.QueryRecord{
		ID:                  newID(),
		ProjectID:           input.ProjectID,
		QueryText:           strings.TrimSpace(input.QueryText),
		Answer:              result.Answer,
		Outcome:             result.Outcome,
		Citations:           result.Citations,
		ContextPassageCount: result.ContextPassageCount,
		Model:               result.Model,
		ElapsedMs:           result.ElapsedMs,
		Ctime:               timeutil.NowUnix(),
	}
	if err := s.queries.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *QueryService) History(ctx context.Context, projectID string, limit, offset int) ([]model.QueryRecord, error) {
	if _, err := s.projects.GetByID(ctx, projectID); err != nil {
		return nil, err
	}
	return s.queries.ListByProject(ctx, projectID, limit, offset)
}

func (s *QueryService) Get(ctx context.Context, projectID, queryID string) (*model.QueryRecord, error) {
	return s.queries.GetByID(ctx, projectID, queryID)
}

// LoadPassageContent resolves the text for each hit, preferring the payload
// copy and falling back to the passages table for entries indexed without
// content.
func (s *QueryService) LoadPassageContent(ctx context.Context, hits []vecindex.Hit) (map[string]string, error) {
	out := make(map[string]string, len(hits))
	var missing []string
	for _, hit := range hits {
		if hit.Payload.Content != "" {
			out[hit.ID] = hit.Payload.Content
			continue
		}
		missing = append(missing, hit.ID)
	}
	if len(missing) == 0 {
		return out, nil
	}
	passages, err := s.passages.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, p := range passages {
		out[p.ID] = p.Content
	}
	return out, nil
}

// generate picks the generator for modelName and runs the prompt through it.
// An unknown model is reported as unavailable rather than silently answered
// by a different one.
func (s *QueryService) generate(ctx context.Context, modelName, prompt string) (string, error) {
	gen := s.generator
	if g, ok := s.byModel[modelName]; ok {
		gen = g
	} else if modelName != "" && modelName != s.cfg.DefaultModel {
		return "", fmt.Errorf("%w: model %s is not configured", appErr.ErrModelUnavailable, modelName)
	}
	if gen == nil {
		return "", fmt.Errorf("%w: generator not configured", appErr.ErrModelUnavailable)
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.Timeout)*time.Second)
		defer cancel()
	}
	resp, err := gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

func buildPrompt(query string, contexts []string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant that answers questions based on the provided context.\n\n")
	sb.WriteString("Context from documents:\n\n")
	for i, text := range contexts {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, text)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString("Please provide a comprehensive answer based on the context above. ")
	sb.WriteString("If the answer cannot be found in the context, say so. ")
	sb.WriteString("Include relevant citations using [1], [2], etc. to reference the context chunks.")
	return sb.String()
}

func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= excerptRuneLimit {
		return content
	}
	return string(runes[:excerptRuneLimit]) + "..."
}

func answerCacheKey(projectID, query string, topK int, threshold float32, modelName string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%g|%s", projectID, query, topK, threshold, modelName)))
	return hex.EncodeToString(h[:])
}
