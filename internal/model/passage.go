package model

type Passage struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	ProjectID   string `json:"project_id"`
	Index       int    `json:"index"`
	Content     string `json:"content"`
	CharCount   int    `json:"char_count"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Ctime       int64  `json:"ctime"`
}
