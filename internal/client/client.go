// Package client holds the pieces a syncing client wires around the queue:
// the HTTP transport to the server and the bookkeeping that runs after a
// sync answers (identifier upgrades, snapshot refresh, conflict rebase).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmynk/splitsync/internal/models"
	"github.com/mmynk/splitsync/internal/queue"
	"github.com/mmynk/splitsync/internal/wire"
)

// Ensure HTTPTransport implements queue.Transport.
var _ queue.Transport = (*HTTPTransport)(nil)

// HTTPTransport executes sync actions against the server's JSON API.
type HTTPTransport struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPTransport builds a transport for the given server base URL and
// bearer token. Requests are bounded by the client's timeout so no sync
// blocks indefinitely.
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Do transmits the action's change-set. Non-2xx statuses become
// *queue.RequestError so the queue can classify them; transport-level
// failures (connection refused, timeout) return as plain errors and are
// retried.
func (t *HTTPTransport) Do(ctx context.Context, action *queue.Action) (*wire.SyncResponse, error) {
	body, err := json.Marshal(action.Payload)
	if err != nil {
		return nil, &queue.RequestError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	url := fmt.Sprintf("%s/v1/bills/%s/sync", t.baseURL, action.BillID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &queue.RequestError{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	var syncResp wire.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&syncResp); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return &syncResp, nil
}

// Refresh fetches the full authoritative bill, used to rebase after a
// conflict.
func (t *HTTPTransport) Refresh(ctx context.Context, billID string) (*models.Bill, error) {
	url := fmt.Sprintf("%s/v1/bills/%s", t.baseURL, billID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &queue.RequestError{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	var bill models.Bill
	if err := json.NewDecoder(resp.Body).Decode(&bill); err != nil {
		return nil, fmt.Errorf("failed to decode bill: %w", err)
	}
	return &bill, nil
}

// ApplyMappings upgrades the working copy with the server identifiers one
// reconciliation issued. Local IDs stay stable; only ServerID gets filled
// in.
func ApplyMappings(bill *models.Bill, m *wire.IDMappings) {
	if m == nil {
		return
	}
	for local, server := range m.Members {
		if member := bill.MemberByID(local); member != nil {
			member.ServerID = server
		}
	}
	for local, server := range m.Expenses {
		if exp := bill.ExpenseByID(local); exp != nil {
			exp.ServerID = server
		}
	}
	for local, server := range m.ExpenseItems {
		if _, item := bill.ItemByID(local); item != nil {
			item.ServerID = server
		}
	}
}

// AfterSync applies a sync outcome to the working copy and returns the new
// snapshot baseline. On success the mappings are applied, the version
// adopted, and a fresh snapshot taken. On an in-band rejection (conflicts
// or a lost write race) the caller must rebase: the working copy is marked
// conflicted and no new snapshot is produced.
func AfterSync(bill *models.Bill, resp *wire.SyncResponse) *models.Snapshot {
	if !resp.Success {
		bill.SyncStatus = models.SyncStatusConflict
		return nil
	}
	ApplyMappings(bill, resp.IDMappings)
	bill.Version = resp.NewVersion
	bill.SyncStatus = models.SyncStatusSynced
	return models.NewSnapshot(bill)
}
