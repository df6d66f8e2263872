package storage_test

import (
	"context"
	"io"
	"testing"

	"github.com/configvault/configvault/internal/config"
	"github.com/configvault/configvault/internal/storage"
)

type mockStorage struct{}

func (m *mockStorage) Upload(_ context.Context, _ string, _ io.Reader, _ int64) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *mockStorage) Download(_ context.Context, _ string) (io.ReadCloser, error) { return nil, nil }
func (m *mockStorage) Delete(_ context.Context, _ string) error                    { return nil }
func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error)            { return false, nil }

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("test-backend", func(_ *config.Config) (storage.Storage, error) {
		return &mockStorage{}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "test-backend"

	s, err := storage.NewStorage(cfg)
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if s == nil {
		t.Fatal("NewStorage() returned nil")
	}

	found := false
	for _, name := range storage.Registered() {
		if name == "test-backend" {
			found = true
		}
	}
	if !found {
		t.Errorf("Registered() = %v, missing test-backend", storage.Registered())
	}
}

func TestNewStorage_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "completely-unknown-backend"

	if _, err := storage.NewStorage(cfg); err == nil {
		t.Error("NewStorage() = nil error, want error for unregistered backend")
	}
}

func TestNewStorage_EmptyBackend(t *testing.T) {
	cfg := &config.Config{}

	if _, err := storage.NewStorage(cfg); err == nil {
		t.Error("NewStorage() = nil error, want error for empty backend name")
	}
}

func TestChecksum(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := storage.Checksum([]byte("abc")); got != want {
		t.Errorf("Checksum() = %s, want %s", got, want)
	}
}
