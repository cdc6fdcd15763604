package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/savia-coop/cartera-engine/internal/alert"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) InterestOnlyStreak(ctx context.Context, sig alert.Signal) error {
	args := m.Called(ctx, sig)
	return args.Error(0)
}
