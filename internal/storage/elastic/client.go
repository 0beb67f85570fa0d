package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"logsift/internal/model"
)

// Client talks to an Elasticsearch-compatible cluster over its HTTP API.
// It carries only the operations the pipeline and its collaborators need:
// bulk indexing, an error-count query, and the two provisioning calls.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

func NewClient(baseURL, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type esError struct {
	StatusCode int
	Body       string
}

func (e *esError) Error() string {
	return fmt.Sprintf("elasticsearch returned %d: %s", e.StatusCode, e.Body)
}

// BulkIndex writes one batch of entries into a single index using the NDJSON
// bulk API, preserving batch order.
func (c *Client) BulkIndex(ctx context.Context, index string, entries []model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var body bytes.Buffer
	for _, entry := range entries {
		meta := map[string]map[string]string{"index": {"_index": index}}
		if err := json.NewEncoder(&body).Encode(meta); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := json.NewEncoder(&body).Encode(entry); err != nil {
			return fmt.Errorf("encode bulk document: %w", err)
		}
	}

	respBody, err := c.do(ctx, http.MethodPost, "/_bulk", "application/x-ndjson", body.Bytes())
	if err != nil {
		return err
	}

	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
		} `json:"items"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if result.Errors {
		failed := 0
		for _, item := range result.Items {
			for _, action := range item {
				if action.Status >= 300 {
					failed++
				}
			}
		}
		return fmt.Errorf("bulk write to %s rejected %d of %d documents", index, failed, len(entries))
	}
	return nil
}

// ErrorCount returns how many ERROR-level documents the index holds inside
// the given time range.
func (c *Client) ErrorCount(ctx context.Context, index string, from, to time.Time) (int64, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{"match": map[string]interface{}{"level.keyword": "ERROR"}},
				},
				"filter": []interface{}{
					map[string]interface{}{"range": map[string]interface{}{
						"timestamp": map[string]interface{}{
							"gte": from.UTC().Format(time.RFC3339),
							"lte": to.UTC().Format(time.RFC3339),
						},
					}},
				},
			},
		},
	}

	body, err := json.Marshal(query)
	if err != nil {
		return 0, fmt.Errorf("encode count query: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/"+index+"/_count", "application/json", body)
	if err != nil {
		return 0, err
	}

	var result struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return result.Count, nil
}

// IndexExists reports whether an index is present. Used by the provisioning
// collaborator, not by the pipeline itself.
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodHead, "/"+index, "", nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("head index: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &esError{StatusCode: resp.StatusCode}
	}
}

// CreateIndex creates an index with default settings.
func (c *Client) CreateIndex(ctx context.Context, index string) error {
	_, err := c.do(ctx, http.MethodPut, "/"+index, "application/json", []byte("{}"))
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, contentType, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &esError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
