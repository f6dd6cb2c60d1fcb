package marathon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultBaseURL = "https://www.marathonbet.com"
	resultTreePath = "/en/react/unionresults/resulttree"

	maxErrorBody = 512
)

// Client handles result tree requests
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	timeout    time.Duration
}

// NewClient creates a new result tree client. timeout bounds a whole request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		userAgent:  "Mozilla/5.0 (compatible; FortunaBot/1.0)",
		timeout:    timeout,
	}
}

// FetchTree POSTs the result tree endpoint and returns root.childs (one node per sport)
func (c *Client) FetchTree(ctx context.Context) ([]interface{}, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+resultTreePath, nil)
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures, timeouts and cancellation all land here
		return nil, &FetchError{Transient: true, Err: fmt.Errorf("making request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Err:        fmt.Errorf("result tree error: body=%s", string(body)),
		}
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &FetchError{Transient: true, Err: fmt.Errorf("reading response: %w", err)}
		}
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	root, ok := result["root"].(map[string]interface{})
	if !ok {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: errors.New("response has no root object")}
	}

	childs, ok := root["childs"]
	if !ok || childs == nil {
		return []interface{}{}, nil
	}
	sports, ok := childs.([]interface{})
	if !ok {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: errors.New("root.childs is not an array")}
	}

	return sports, nil
}
