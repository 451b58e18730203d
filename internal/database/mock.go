package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockStore) View(ctx context.Context, fn func(Tx) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}
func (m *MockStore) Update(ctx context.Context, fn func(Tx) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}
func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
