package model

type QueryRecord struct {
	ID                  string     `json:"id"`
	ProjectID           string     `json:"project_id"`
	QueryText           string     `json:"query_text"`
	Answer              string     `json:"answer"`
	Outcome             string     `json:"outcome"`
	Citations           []Citation `json:"citations"`
	ContextPassageCount int        `json:"context_passage_count"`
	Model               string     `json:"model,omitempty"`
	ElapsedMs           int64      `json:"elapsed_ms"`
	Ctime               int64      `json:"ctime"`
}
