package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider records Save calls so tests can assert on archive
// interaction without a real bucket.
type MockProvider struct {
	mock.Mock
}

// Save registers the call and returns the configured error.
func (m *MockProvider) Save(ctx context.Context, objectName string, data []byte) error {
	return m.Called(ctx, objectName, data).Error(0)
}
