package model

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Ctime       int64  `json:"ctime"`
	Mtime       int64  `json:"mtime"`

	// DocumentCount is filled in by the service layer, it is not a column.
	DocumentCount int64 `json:"document_count"`
}
