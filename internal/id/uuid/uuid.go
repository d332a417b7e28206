// Package uuid generates the opaque identifiers attached to scrape results
// and HTTP requests.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID strings. The zero value produces random (v4) ids.
type Generator struct {
	timeOrdered bool
}

// New returns a Generator producing random v4 ids.
func New() *Generator {
	return &Generator{}
}

// NewTimeOrdered returns a Generator producing v7 ids that sort by creation time.
func NewTimeOrdered() *Generator {
	return &Generator{timeOrdered: true}
}

// NewID returns a fresh id.
func (g Generator) NewID() (string, error) {
	var (
		id  uuid.UUID
		err error
	)
	if g.timeOrdered {
		id, err = uuid.NewV7()
	} else {
		id, err = uuid.NewRandom()
	}
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}
