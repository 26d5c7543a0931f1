// Package blob deletes memory content by key. The lifecycle manager never
// reads content; purge and erasure only ever call Delete.
package blob

import (
	"context"
	"errors"
)

// ErrUnavailable is returned while the backend's circuit is open.
var ErrUnavailable = errors.New("blob backend unavailable")

// Backend removes content. Delete of a missing key succeeds.
type Backend interface {
	Delete(ctx context.Context, key string) error
}
