// Package brightdata triggers Bright Data dataset collections and downloads
// their snapshots.
package brightdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/policy/retry"
)

// DefaultAPIBase is the public Bright Data API.
const DefaultAPIBase = "https://api.brightdata.com"

const maxErrorBody = 512

// Dataset selects the Bright Data dataset used for a source.
type Dataset struct {
	ID string
	// DiscoverByKeyword switches the trigger to keyword discovery.
	DiscoverByKeyword bool
}

// Config configures the client.
type Config struct {
	APIBase  string
	APIToken string
	Timeout  time.Duration
	Datasets map[collector.SourceType]Dataset
}

// Client talks to the Bright Data datasets API.
type Client struct {
	base     string
	token    string
	datasets map[collector.SourceType]Dataset
	http     *http.Client
}

var (
	_ collector.Provider       = (*Client)(nil)
	_ collector.SnapshotLoader = (*Client)(nil)
)

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.APIToken == "" {
		return nil, errors.New("brightdata api token is required")
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, token: cfg.APIToken, datasets: cfg.Datasets, http: httpClient}, nil
}

type triggerResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

// Trigger starts a collection and returns the snapshot id Bright Data will
// echo back on the webhook.
func (c *Client) Trigger(ctx context.Context, req collector.TriggerRequest) (string, error) {
	dataset, ok := c.datasets[req.Source.Type]
	if !ok || dataset.ID == "" {
		return "", retry.Permanent(fmt.Errorf("no dataset configured for %s", req.Source.Type))
	}

	q := url.Values{}
	q.Set("dataset_id", dataset.ID)
	q.Set("notify", req.CallbackURL)
	q.Set("auth_header", req.AuthHeader)
	q.Set("format", "json")
	q.Set("uncompressed_webhook", "true")
	q.Set("include_errors", "true")
	if dataset.DiscoverByKeyword {
		q.Set("type", "discover_new")
		q.Set("discover_by", "keyword")
	}

	inputs := buildInputs(req, dataset.DiscoverByKeyword)
	if len(inputs) == 0 {
		return "", retry.Permanent(errors.New("no inputs to trigger"))
	}
	body, err := json.Marshal(inputs)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("encode trigger inputs: %w", err))
	}

	endpoint := c.base + "/datasets/v3/trigger?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("build trigger request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	var out triggerResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode trigger response: %w", err)
	}
	if out.SnapshotID == "" {
		return "", retry.Permanent(fmt.Errorf("trigger response missing snapshot_id: %s", truncate(respBody)))
	}
	return out.SnapshotID, nil
}

// FetchSnapshot downloads a finished snapshot as JSON.
func (c *Client) FetchSnapshot(ctx context.Context, snapshotID string) (json.RawMessage, error) {
	if snapshotID == "" {
		return nil, errors.New("snapshot id is required")
	}
	endpoint := c.base + "/datasets/v3/snapshot/" + url.PathEscape(snapshotID) + "?format=json"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	body, err := c.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", snapshotID, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("snapshot %s is not valid json", snapshotID)
	}
	return body, nil
}

// do sends req with the API token. Client errors other than 429 are permanent.
func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, truncate(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(statusErr)
		}
		return nil, statusErr
	}
	return body, nil
}

// buildInputs turns targets (or the keyword) into the trigger body.
func buildInputs(req collector.TriggerRequest, byKeyword bool) []map[string]string {
	if byKeyword {
		keyword := strings.TrimSpace(req.Source.Keyword)
		if keyword == "" {
			keyword = strings.Join(req.Targets, " ")
		}
		if keyword == "" {
			return nil
		}
		if len(req.Source.Countries) == 0 {
			return []map[string]string{{"keyword": keyword}}
		}
		inputs := make([]map[string]string, 0, len(req.Source.Countries))
		for _, country := range req.Source.Countries {
			inputs = append(inputs, map[string]string{"keyword": keyword + " " + country})
		}
		return inputs
	}
	inputs := make([]map[string]string, 0, len(req.Targets))
	for _, target := range req.Targets {
		inputs = append(inputs, map[string]string{"url": target})
	}
	return inputs
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
