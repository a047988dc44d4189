package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrTooMany
	ErrInternal
	ErrUnsupportedFormat
	ErrExtractionFailed
	ErrAIUnavailable
	ErrDimensionMismatch
	ErrIndexFailed
	ErrUploadFailed
)
