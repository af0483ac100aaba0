package crane

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ladiesman540/crane-platform/internal/adapters/delivery"
	"github.com/ladiesman540/crane-platform/internal/domain"
)

// SnapshotClient pulls recent readings from the gate's query API.
type SnapshotClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewSnapshotClient(apiURL, apiKey string, hc *http.Client) *SnapshotClient {
	if hc == nil {
		hc = &http.Client{Timeout: delivery.DefaultTimeout}
	}
	return &SnapshotClient{baseURL: strings.TrimRight(apiURL, "/"), apiKey: apiKey, http: hc}
}

// Recent returns up to limit readings for sensorID, newest first.
func (c *SnapshotClient) Recent(ctx context.Context, sensorID string, limit int) ([]domain.AcceptedReading, error) {
	q := url.Values{}
	q.Set("sensor_id", sensorID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/readings?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build readings request: %w", err)
	}
	req.Header.Set(delivery.APIKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query readings: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var list []domain.AcceptedReading
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}
	return list, nil
}
