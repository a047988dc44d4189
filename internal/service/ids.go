package service

import (
	"github.com/google/uuid"
)

// newID returns a random id in canonical uuid form. The vector index
// backends accept uuids as point ids, so every entity shares the format.
func newID() string {
	return uuid.NewString()
}
