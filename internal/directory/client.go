// Package directory talks to the backing store that holds the
// application's user directory — the mirror of accounts the identity
// provider owns.
//
// The mirror write is best-effort by design: a provider-side principal
// without a directory record is a documented inconsistency, never a
// reason to fail a registration that already created the account.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rakin/trackauth/internal/apperror"
	"github.com/rakin/trackauth/internal/model"
)

// Client posts registration records to the backing store's
// user-registration endpoint.
type Client struct {
	endpoint string
	client   *http.Client
}

// New creates a Client for the given endpoint. A nil http.Client falls
// back to a default with a 15s timeout.
func New(endpoint string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{endpoint: endpoint, client: client}
}

// insertResponse is the backing store's response contract — presence of
// insertedId signals success.
type insertResponse struct {
	InsertedID string `json:"insertedId"`
}

// SaveRecord persists one registration record and returns the inserted
// ID. Any failure — transport, non-2xx status, absent insertedId — is a
// persistence error; the caller decides whether that is fatal (for
// registration it is not).
func (c *Client) SaveRecord(ctx context.Context, rec model.RegistrationRecord) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("directory: encoding record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("directory: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("directory: %w: %w", apperror.PersistenceFailed("backing store unreachable"), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("directory: %w: backing store returned status %d", apperror.PersistenceFailed("backing store rejected the record"), resp.StatusCode)
	}

	var ir insertResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return "", fmt.Errorf("directory: %w: %w", apperror.PersistenceFailed("unreadable backing store response"), err)
	}
	if ir.InsertedID == "" {
		return "", fmt.Errorf("directory: %w", apperror.PersistenceFailed("backing store did not confirm the insert"))
	}

	return ir.InsertedID, nil
}
