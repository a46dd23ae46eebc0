package mocks

import (
	"context"
	"io"
	"net/http"

	"github.com/brettbedarf/colstore"
	"github.com/stretchr/testify/mock"
)

// MockSourceResolver implements colstore.SourceResolver for testing across packages
type MockSourceResolver struct {
	mock.Mock
}

func (m *MockSourceResolver) Resolve(ctx context.Context, src colstore.SourceDescriptor) (io.ReadCloser, error) {
	args := m.Called(ctx, src)

	// Handle function return types (for fresh readers per call)
	if fn, ok := args.Get(0).(func(context.Context, colstore.SourceDescriptor) io.ReadCloser); ok {
		return fn(ctx, src), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

var _ colstore.SourceResolver = (*MockSourceResolver)(nil)

// MockSecretCipher implements colstore.SecretCipher for testing across packages
type MockSecretCipher struct {
	mock.Mock
}

func (m *MockSecretCipher) Encrypt(plain string) (string, error) {
	args := m.Called(plain)
	return args.String(0), args.Error(1)
}

func (m *MockSecretCipher) Decrypt(cipherText string) (string, error) {
	args := m.Called(cipherText)
	return args.String(0), args.Error(1)
}

var _ colstore.SecretCipher = (*MockSecretCipher)(nil)

// MockHTTPClient stands in for *http.Client in the HTTP engine
type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)

	if fn, ok := args.Get(0).(func(*http.Request) *http.Response); ok {
		return fn(req), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}
