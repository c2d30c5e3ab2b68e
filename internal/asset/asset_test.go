package asset

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/owntube/owntube/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchWritesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "thumbs", "abc.jpg")
	fetcher := NewFetcher(server.Client(), "thumbnail", logging.Nop())

	require.NoError(t, fetcher.Fetch(context.Background(), server.URL, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestFetchOverwritesExistingFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "abc.jpg")
	require.NoError(t, os.WriteFile(dest, []byte("old and longer"), 0644))

	fetcher := NewFetcher(server.Client(), "thumbnail", logging.Nop())
	require.NoError(t, fetcher.Fetch(context.Background(), server.URL, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestFetchNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "abc.jpg")
	fetcher := NewFetcher(server.Client(), "thumbnail", logging.Nop())

	err := fetcher.Fetch(context.Background(), server.URL, dest)
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Equal(t, server.URL, fetchErr.URL)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no file is written on failure")
}

func TestFetchTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	fetcher := NewFetcher(nil, "thumbnail", logging.Nop())
	err := fetcher.Fetch(context.Background(), url, filepath.Join(t.TempDir(), "x.jpg"))

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Zero(t, fetchErr.StatusCode)
	assert.NotNil(t, fetchErr.Unwrap())
}
