// Package source captures JPEG frames and publishes them for the output
// pipeline. Exactly one source runs at a time.
package source

import (
	"context"

	"github.com/pkg/errors"
)

// Publisher receives complete compressed frames. *frameslot.Slot
// implements it.
type Publisher interface {
	Publish(frame []byte) error
}

// Source produces frames until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, out Publisher) error
}

// Select returns the source at index.
func Select(sources []Source, index int) (Source, error) {
	if index < 0 || index >= len(sources) {
		return nil, errors.Errorf("source: input %d not in [0, %d)", index, len(sources))
	}
	return sources[index], nil
}
