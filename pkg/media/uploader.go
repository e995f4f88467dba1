// Package media implements the client for the Media Upload Service,
// which accepts raw bytes plus metadata and returns a durable URL.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"chatsync/internal/errors"
	"chatsync/internal/models"

	"github.com/gabriel-vasile/mimetype"
)

// Uploader is the surface the send pipeline depends on.
type Uploader interface {
	Upload(ctx context.Context, data []byte, name string, onProgress func(sent int64)) (*models.Attachment, error)
}

// SessionProvider supplies the bearer credential for upload calls.
type SessionProvider interface {
	AuthToken() string
}

// HTTPUploader posts multipart uploads to the Media Upload Service.
type HTTPUploader struct {
	uploadURL       string
	client          *http.Client
	session         SessionProvider
	maxAttachmentMB int
	baseTimeout     time.Duration
	perMBTimeout    time.Duration
}

type uploadResponse struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Error string `json:"error,omitempty"`
}

func NewUploader(uploadURL string, session SessionProvider, maxAttachmentMB int, baseTimeout, perMBTimeout time.Duration) *HTTPUploader {
	return &HTTPUploader{
		uploadURL:       uploadURL,
		client:          &http.Client{},
		session:         session,
		maxAttachmentMB: maxAttachmentMB,
		baseTimeout:     baseTimeout,
		perMBTimeout:    perMBTimeout,
	}
}

// progressReader reports cumulative bytes read to a callback.
type progressReader struct {
	r          io.Reader
	sent       int64
	onProgress func(sent int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.sent)
		}
	}
	return n, err
}

// Upload sends the bytes with sniffed content type and waits for the
// durable URL. The request timeout scales with payload size.
func (u *HTTPUploader) Upload(ctx context.Context, data []byte, name string, onProgress func(sent int64)) (*models.Attachment, error) {
	sizeMB := len(data) / (1 << 20)
	if u.maxAttachmentMB > 0 && sizeMB > u.maxAttachmentMB {
		return nil, errors.NewValidationError("attachment",
			fmt.Sprintf("attachment of %dMB exceeds the %dMB limit", sizeMB, u.maxAttachmentMB))
	}

	contentType := mimetype.Detect(data)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}
	if err := writer.WriteField("contentType", contentType.String()); err != nil {
		return nil, fmt.Errorf("failed to write content type field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	timeout := u.baseTimeout + time.Duration(sizeMB)*u.perMBTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL,
		&progressReader{r: body, onProgress: onProgress})
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token := u.session.AuthToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, errors.NewTransportError("media", "upload", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, errors.NewTransportError("media", "upload", resp.StatusCode,
			fmt.Errorf("upload failed: %s", decoded.Error))
	}

	return &models.Attachment{
		URL:  decoded.URL,
		Name: decoded.Name,
		Size: decoded.Size,
	}, nil
}
