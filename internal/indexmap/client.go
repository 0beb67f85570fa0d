package indexmap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// topicIndexMapPath is the admin endpoint serving the full mapping.
const topicIndexMapPath = "/api/admin/topic-index-map"

// HTTPFetcher fetches the topic-to-index mapping from the log admin service.
type HTTPFetcher struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchTopicIndexMap retrieves the complete mapping in one call.
func (f *HTTPFetcher) FetchTopicIndexMap(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+topicIndexMapPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch topic-index map: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("topic-index map returned %d: %s", resp.StatusCode, string(body))
	}

	var mapping map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&mapping); err != nil {
		return nil, fmt.Errorf("decode topic-index map: %w", err)
	}
	return mapping, nil
}
