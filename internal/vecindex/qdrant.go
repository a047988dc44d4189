package vecindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	appErr "github.com/xxxsen/docquery/internal/pkg/errors"
)

type qdrantConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	Collection string `json:"collection"`
	TimeoutSec int    `json:"timeout_sec"`
}

// qdrantIndex talks to Qdrant over its REST API. Point ids must be UUIDs,
// which is what the ingest layer generates.
type qdrantIndex struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

func NewQdrant(url, apiKey, collection string, timeout time.Duration) Index {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &qdrantIndex{
		url:        strings.TrimRight(url, "/"),
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

type qdrantCollectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (s *qdrantIndex) Create(ctx context.Context, dimension int, metric string) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", appErr.ErrInvalid)
	}
	if metric != MetricCosine {
		return fmt.Errorf("%w: unsupported metric %q", appErr.ErrInvalid, metric)
	}
	var info qdrantCollectionInfo
	status, err := s.doJSON(ctx, http.MethodGet, s.collectionURL(""), nil, &info)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		existing := info.Result.Config.Params.Vectors.Size
		if existing != dimension {
			return fmt.Errorf("%w: collection %s has dimension %d, requested %d",
				appErr.ErrDimensionMismatch, s.collection, existing, dimension)
		}
		return nil
	}
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if _, err := s.doJSON(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return err
	}
	return nil
}

func (s *qdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	items := make([]map[string]interface{}, 0, len(points))
	for _, p := range points {
		items = append(items, map[string]interface{}{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": flattenPayload(p.Payload),
		})
	}
	body := map[string]interface{}{"points": items}
	_, err := s.doJSON(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
	return err
}

func (s *qdrantIndex) Search(ctx context.Context, vector []float32, q Query) ([]Hit, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	body := map[string]interface{}{
		"vector":          vector,
		"limit":           topK,
		"with_payload":    true,
		"score_threshold": q.ScoreThreshold,
	}
	if cond := qdrantFilter(q.Filter); cond != nil {
		body["filter"] = cond
	}
	var resp struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float32                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if _, err := s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/search"), body, &resp); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{
			ID:      idToString(r.ID),
			Score:   r.Score,
			Payload: unflattenPayload(r.Payload),
		})
	}
	// Qdrant orders by score only; re-sort for a stable tie-break on id.
	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *qdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]interface{}{"points": ids}
	_, err := s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
	return err
}

func (s *qdrantIndex) DeleteByFilter(ctx context.Context, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: refusing delete with empty filter", appErr.ErrInvalid)
	}
	body := map[string]interface{}{"filter": qdrantFilter(filter)}
	_, err := s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
	return err
}

func (s *qdrantIndex) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

// doJSON runs one request and decodes the response when out is non-nil. A
// 404 on GET is reported through the status, not as an error, so Create can
// probe for existence.
func (s *qdrantIndex) doJSON(ctx context.Context, method, url string, in interface{}, out interface{}) (int, error) {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("qdrant %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if method == http.MethodGet && resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s: %s",
			method, url, resp.Status, strings.TrimSpace(string(body)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func qdrantFilter(filter Filter) map[string]interface{} {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]interface{}, 0, len(filter))
	for key, value := range filter {
		must = append(must, map[string]interface{}{
			"key":   key,
			"match": map[string]interface{}{"value": value},
		})
	}
	return map[string]interface{}{"must": must}
}

func flattenPayload(p Payload) map[string]interface{} {
	out := make(map[string]interface{}, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	if p.ProjectID != "" {
		out[FilterProjectID] = p.ProjectID
	}
	if p.DocumentID != "" {
		out[FilterDocumentID] = p.DocumentID
	}
	if p.Content != "" {
		out["content"] = p.Content
	}
	return out
}

func unflattenPayload(raw map[string]interface{}) Payload {
	var p Payload
	for k, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case FilterProjectID:
			p.ProjectID = str
		case FilterDocumentID:
			p.DocumentID = str
		case "content":
			p.Content = str
		default:
			if p.Extra == nil {
				p.Extra = map[string]string{}
			}
			p.Extra[k] = str
		}
	}
	return p
}

func idToString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func init() {
	Register("qdrant", func(args interface{}) (Index, error) {
		cfg := &qdrantConfig{}
		if err := decodeConfig(args, cfg); err != nil {
			return nil, err
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("qdrant url is required")
		}
		collection := cfg.Collection
		if collection == "" {
			collection = "passages"
		}
		return NewQdrant(cfg.URL, cfg.APIKey, collection, time.Duration(cfg.TimeoutSec)*time.Second), nil
	})
}
