package model

const (
	DocumentStatusUploaded   = "uploaded"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

type Document struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	SizeBytes    int64  `json:"size_bytes"`
	Content      string `json:"content,omitempty"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	PassageCount int    `json:"passage_count"`
	Ctime        int64  `json:"ctime"`
	Mtime        int64  `json:"mtime"`
}
