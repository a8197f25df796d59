// Package storage defines the interface for the optional artifact archive.
// The local result cache remains the source of truth; an archive provider
// mirrors finished screenshots to durable off-box storage on a best-effort
// basis.
package storage

import (
	"context"
)

// Provider abstracts the operation of archiving an artifact.
type Provider interface {
	// Save uploads data to a specified object path/key in the archive.
	Save(ctx context.Context, objectName string, data []byte) error
}

// NoOpProvider is an archive provider that performs no operations. It is
// the default when no archive is configured.
type NoOpProvider struct{}

// Save for NoOpProvider does nothing and always returns nil.
func (n *NoOpProvider) Save(_ context.Context, _ string, _ []byte) error {
	return nil
}
