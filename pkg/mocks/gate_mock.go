package mocks

import (
	"context"

	"github.com/barkbase/automation/pkg/features"
	"github.com/barkbase/automation/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockGate is a mock implementation of features.Gate interface.
type MockGate struct {
	mock.Mock
}

var _ features.Gate = (*MockGate)(nil)

func (m *MockGate) CanPublish(ctx context.Context, tenantID string, flow *models.Flow) error {
	args := m.Called(ctx, tenantID, flow)

	return args.Error(0)
}

func (m *MockGate) CanRun(ctx context.Context, tenantID string, flow *models.Flow) error {
	args := m.Called(ctx, tenantID, flow)

	return args.Error(0)
}
