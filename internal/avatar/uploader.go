// Package avatar sends a user-selected image to the external media
// host and resolves it to a durable public URL.
//
// The uploader is pure request/response — no local state, no retries.
// Callers are responsible for handing it a non-empty blob of a
// supported image encoding; the registration flow enforces that before
// any network traffic happens.
package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/rakin/trackauth/internal/apperror"
)

// Uploader posts images to an imgbb-style upload endpoint keyed by an
// API credential.
type Uploader struct {
	hostURL string
	apiKey  string
	client  *http.Client
}

// New creates an Uploader for the given host endpoint and API key.
// A nil client falls back to a default with a 30s timeout — uploads go
// over the public internet and must not hang a submission forever.
func New(hostURL, apiKey string, client *http.Client) *Uploader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Uploader{hostURL: hostURL, apiKey: apiKey, client: client}
}

// hostResponse is the media host's response contract:
//
//	{"success": true, "data": {"display_url": "https://..."}}
type hostResponse struct {
	Success bool `json:"success"`
	Data    struct {
		DisplayURL string `json:"display_url"`
	} `json:"data"`
}

// Upload sends the image in one multipart POST and returns the durable
// public URL the host assigned.
//
// Every failure — network, non-2xx status, success=false, missing URL —
// comes back as an upload error with no partial result; the caller must
// not proceed to account creation on any of them.
func (u *Uploader) Upload(ctx context.Context, image []byte, filename string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("avatar: building multipart body: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(image)); err != nil {
		return "", fmt.Errorf("avatar: building multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("avatar: building multipart body: %w", err)
	}

	endpoint := u.hostURL
	if u.apiKey != "" {
		endpoint = fmt.Sprintf("%s?key=%s", u.hostURL, url.QueryEscape(u.apiKey))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("avatar: building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("avatar: %w: %w", apperror.UploadFailed("media host unreachable"), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("avatar: %w: media host returned status %d", apperror.UploadFailed("media host rejected the upload"), resp.StatusCode)
	}

	var hr hostResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return "", fmt.Errorf("avatar: %w: %w", apperror.UploadFailed("unreadable media host response"), err)
	}
	if !hr.Success || hr.Data.DisplayURL == "" {
		return "", fmt.Errorf("avatar: %w", apperror.UploadFailed("media host reported failure"))
	}

	return hr.Data.DisplayURL, nil
}
