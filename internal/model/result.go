package model

const (
	OutcomeAnswered  = "answered"
	OutcomeNoResults = "no_results"
	OutcomeDegraded  = "degraded"
)

type Citation struct {
	PassageID  string  `json:"passage_id"`
	DocumentID string  `json:"document_id"`
	Score      float32 `json:"score"`
	Rank       int     `json:"rank"`
	Excerpt    string  `json:"excerpt"`
}

type RetrievalResult struct {
	Answer              string     `json:"answer"`
	Outcome             string     `json:"outcome"`
	Citations           []Citation `json:"citations"`
	ContextPassageCount int        `json:"context_passage_count"`
	Model               string     `json:"model,omitempty"`
	ElapsedMs           int64      `json:"elapsed_ms"`
}
