package media

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "chatsync/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSession string

func (s staticSession) AuthToken() string { return string(s) }

func newTestUploader(url string) *HTTPUploader {
	return NewUploader(url, staticSession("upload-token"), 10, 5*time.Second, time.Second)
}

func TestUpload(t *testing.T) {
	var gotAuth, gotFileName, gotContentType string
	var gotFileBytes []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()

		gotFileName = header.Filename
		gotFileBytes, err = io.ReadAll(file)
		require.NoError(t, err)
		gotContentType = r.FormValue("contentType")

		_ = json.NewEncoder(w).Encode(uploadResponse{
			URL:  "https://media.example.com/abc123.png",
			Name: header.Filename,
			Size: int64(len(gotFileBytes)),
		})
	}))
	defer server.Close()

	uploader := newTestUploader(server.URL)

	// Minimal PNG header so content sniffing has something to chew on.
	data := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	att, err := uploader.Upload(context.Background(), data, "photo.png", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://media.example.com/abc123.png", att.URL)
	assert.Equal(t, "photo.png", att.Name)
	assert.Equal(t, int64(len(data)), att.Size)

	assert.Equal(t, "Bearer upload-token", gotAuth)
	assert.Equal(t, "photo.png", gotFileName)
	assert.Equal(t, data, gotFileBytes)
	assert.Equal(t, "image/png", gotContentType)
}

func TestUploadReportsProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = json.NewEncoder(w).Encode(uploadResponse{URL: "https://media.example.com/f", Name: "f", Size: 1})
	}))
	defer server.Close()

	uploader := newTestUploader(server.URL)

	var lastSent int64
	_, err := uploader.Upload(context.Background(), bytes.Repeat([]byte("x"), 4096), "f.bin", func(sent int64) {
		lastSent = sent
	})
	require.NoError(t, err)
	assert.Greater(t, lastSent, int64(4096))
}

func TestUploadRejectsOversizedAttachment(t *testing.T) {
	uploader := NewUploader("http://unused.example.com", staticSession(""), 1, time.Second, time.Second)

	data := bytes.Repeat([]byte("x"), 2<<20)
	_, err := uploader.Upload(context.Background(), data, "big.bin", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.GetCode(err))
}

func TestUploadServerRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(uploadResponse{Error: "unsupported media type"})
	}))
	defer server.Close()

	uploader := newTestUploader(server.URL)
	_, err := uploader.Upload(context.Background(), []byte("data"), "f.bin", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported media type")
}

func TestUploadUnreachableServer(t *testing.T) {
	uploader := newTestUploader("http://127.0.0.1:1")
	_, err := uploader.Upload(context.Background(), []byte("data"), "f.bin", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}
