// Package erp talks to the single remote ERP endpoint: paged record reads
// and fire-and-forget mutations. All requests are POSTs to one URL carrying
// an operation name in the body and a signed Authorization header.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fieldsync/api/internal/record"
	"fieldsync/api/internal/signer"
)

// ErrRemote classifies network and HTTP failures against the endpoint.
// Malformed response bodies are not errors; they normalize to empty pages.
var ErrRemote = fmt.Errorf("erp: remote request failed")

// MutationError is a mutation the endpoint accepted transport-wise but
// rejected, carrying the server-provided message.
type MutationError struct {
	Message string
}

func (e *MutationError) Error() string {
	return "erp: mutation rejected: " + e.Message
}

type Client struct {
	baseURL  string
	scriptID string
	deployID string
	signer   *signer.Signer
	http     *http.Client
	retries  int
}

func NewClient(baseURL, scriptID, deployID string, sig *signer.Signer, timeout time.Duration, retries int) *Client {
	return &Client{
		baseURL:  baseURL,
		scriptID: scriptID,
		deployID: deployID,
		signer:   sig,
		http:     &http.Client{Timeout: timeout},
		retries:  retries,
	}
}

var pageRetryWaits = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

// FetchPage requests one zero-based page of an operation's records and
// normalizes whichever of the known response shapes comes back. Transient
// failures (network, 5xx) are retried a bounded number of times.
func (c *Client) FetchPage(ctx context.Context, operation string, page, pageSize int) (record.Page, error) {
	body := map[string]any{
		"type": operation,
		"pagination": map[string]int{
			"page":     page,
			"pageSize": pageSize,
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := pageRetryWaits[min(attempt-1, len(pageRetryWaits)-1)]
			select {
			case <-ctx.Done():
				return record.Page{}, ctx.Err()
			case <-time.After(wait):
			}
		}
		payload, status, err := c.post(ctx, body)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("%w: status %d", ErrRemote, status)
			continue
		}
		if status >= 400 {
			// Auth/client errors do not improve with retries.
			return record.Page{}, fmt.Errorf("%w: status %d", ErrRemote, status)
		}
		return normalizePage(payload), nil
	}
	return record.Page{}, lastErr
}

// Mutate sends one write operation in the `{type, Data}` envelope and
// returns the server message. Mutations are never retried; the caller has
// no way to know whether a timed-out write was applied.
func (c *Client) Mutate(ctx context.Context, operation string, data any) (string, error) {
	return c.send(ctx, map[string]any{
		"type": operation,
		"Data": data,
	})
}

// SubmitShipment posts shipment lines for a job. This operation uses a flat
// body shape instead of the `Data` envelope.
func (c *Client) SubmitShipment(ctx context.Context, jobID string, lines []int) (string, error) {
	return c.send(ctx, map[string]any{
		"type":  "submitMaintainance",
		"jobId": jobID,
		"lines": lines,
	})
}

func (c *Client) send(ctx context.Context, body map[string]any) (string, error) {
	payload, status, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", fmt.Errorf("%w: status %d", ErrRemote, status)
	}

	var result struct {
		Message string `json:"message"`
		Success string `json:"success"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("erp: unexpected mutation response: %w", err)
	}
	// success is the literal string "true"/"false", not a boolean.
	if result.Success != "true" {
		return "", &MutationError{Message: result.Message}
	}
	return result.Message, nil
}

func (c *Client) post(ctx context.Context, body map[string]any) ([]byte, int, error) {
	params := url.Values{}
	params.Set("script", c.scriptID)
	params.Set("deploy", c.deployID)

	authorization, err := c.signer.Sign(http.MethodPost, c.baseURL, params)
	if err != nil {
		return nil, 0, err
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("erp: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"?"+params.Encode(), bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("erp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", authorization)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body: %v", ErrRemote, err)
	}
	return payload, resp.StatusCode, nil
}

// normalizePage accepts the three response shapes the endpoint is known to
// produce: a bare record array, a `{data, hasNextPage}` envelope, and a
// JSON-encoded string wrapping either. Anything unparseable is an empty
// page, never an error; one bad page must not abort a pagination loop.
func normalizePage(body []byte) record.Page {
	data := bytes.TrimSpace(body)
	if len(data) == 0 {
		return record.Page{}
	}

	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return record.Page{}
		}
		data = bytes.TrimSpace([]byte(inner))
		if len(data) == 0 {
			return record.Page{}
		}
	}

	if data[0] == '[' {
		var records []record.RawRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return record.Page{}
		}
		return record.Page{Records: records}
	}

	var envelope struct {
		Data        []record.RawRecord `json:"data"`
		HasNextPage *bool              `json:"hasNextPage"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return record.Page{}
	}
	return record.Page{Records: envelope.Data, ExplicitHasMore: envelope.HasNextPage}
}
