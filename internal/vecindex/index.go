package vecindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/docquery/internal/config"
)

const (
	MetricCosine = "cosine"

	FilterProjectID  = "project_id"
	FilterDocumentID = "document_id"
)

// Payload is the metadata carried with every vector. The scope keys used for
// filtered search are typed; anything else rides in Extra.
type Payload struct {
	ProjectID  string            `json:"project_id,omitempty"`
	DocumentID string            `json:"document_id,omitempty"`
	Content    string            `json:"content,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Filter is a conjunction: a point matches only when every key/value pair
// holds. Keys project_id and document_id address the typed payload fields,
// all other keys address Extra.
type Filter map[string]string

type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

type Hit struct {
	ID      string
	Score   float32
	Payload Payload
}

type Query struct {
	Filter         Filter
	TopK           int
	ScoreThreshold float32
}

// Index stores (id, vector, payload) points and serves filtered
// nearest-neighbour search. Filtering happens inside the backend, never as a
// post-pass over a global top-k. Hits come back ordered by descending score,
// ties broken by ascending id.
type Index interface {
	Create(ctx context.Context, dimension int, metric string) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, q Query) ([]Hit, error)
	Delete(ctx context.Context, ids []string) error
	DeleteByFilter(ctx context.Context, filter Filter) error
}

type Factory func(args interface{}) (Index, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.VectorIndexConfig) (Index, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("vector_index.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector index type: %s", cfg.Type)
	}
	return factory(cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("index config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode index config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode index config: %w", err)
	}
	return nil
}

// matches reports whether the payload satisfies every pair of the filter.
func (p Payload) matches(filter Filter) bool {
	for key, want := range filter {
		switch key {
		case FilterProjectID:
			if p.ProjectID != want {
				return false
			}
		case FilterDocumentID:
			if p.DocumentID != want {
				return false
			}
		default:
			if p.Extra[key] != want {
				return false
			}
		}
	}
	return true
}

// sortHits applies the deterministic result ordering shared by all backends.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
