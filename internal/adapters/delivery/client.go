package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

const (
	IngestPath     = "/api/v1/ingest"
	APIKeyHeader   = "X-API-Key"
	DefaultTimeout = 15 * time.Second

	maxDetail = 512
)

// Client submits readings to the ingestion gate. Submit makes exactly one
// request and never retries; the caller's next read cycle is the retry.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

type Option func(*Client)

// WithHTTPClient bases the client on a copy of h; h itself is never
// modified.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			cp := *h
			c.http = &cp
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func NewClient(apiURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(apiURL, "/") + IngestPath,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ingestResponse struct {
	ReadingID domain.ReadingID `json:"reading_id"`
}

func (c *Client) Submit(ctx context.Context, r domain.Reading) domain.Outcome {
	body, err := json.Marshal(r)
	if err != nil {
		return domain.Outcome{Kind: domain.OutcomeRejected, Detail: fmt.Sprintf("encode reading: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Outcome{Kind: domain.OutcomeTransportFailure, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Outcome{Kind: domain.OutcomeTransportFailure, Detail: err.Error()}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return domain.Outcome{Kind: domain.OutcomeTransportFailure, Status: resp.StatusCode, Detail: fmt.Sprintf("read response: %v", err)}
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return domain.Outcome{Kind: domain.OutcomeDuplicate, Status: resp.StatusCode}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var ir ingestResponse
		if err := json.Unmarshal(raw, &ir); err != nil || ir.ReadingID == "" {
			return domain.Outcome{
				Kind:   domain.OutcomeRejected,
				Status: resp.StatusCode,
				Detail: "response without reading_id: " + truncate(raw),
			}
		}
		return domain.Outcome{Kind: domain.OutcomeAccepted, Status: resp.StatusCode, ReadingID: ir.ReadingID}
	default:
		return domain.Outcome{Kind: domain.OutcomeRejected, Status: resp.StatusCode, Detail: truncate(raw)}
	}
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxDetail {
		return s[:maxDetail]
	}
	return s
}

var _ ports.Submitter = (*Client)(nil)
