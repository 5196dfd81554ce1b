package driverapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"zonedispatch/internal/model"
)

// APIError is a non-2xx answer from the dispatch API, decoded from its
// problem+json body when possible.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("dispatch api: %d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("dispatch api: %d %s", e.Status, e.Title)
}

// HTTPClient talks to cmd/api.
type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *HTTPClient) Heartbeat(ctx context.Context, driverID, name string, status model.DriverStatus) error {
	body := map[string]any{"status": status, "name": name}
	return c.do(ctx, http.MethodPost, "/v1/drivers/"+url.PathEscape(driverID)+"/heartbeat", body, nil)
}

func (c *HTTPClient) JobsFor(ctx context.Context, driverID string, statuses ...model.JobStatus) ([]model.DeliveryJob, error) {
	q := url.Values{}
	for _, s := range statuses {
		q.Add("status", string(s))
	}
	path := "/v1/drivers/" + url.PathEscape(driverID) + "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Items []model.DeliveryJob `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *HTTPClient) CompleteJob(ctx context.Context, jobID string) (model.DeliveryJob, error) {
	var j model.DeliveryJob
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/complete", map[string]any{}, &j)
	return j, err
}

func (c *HTTPClient) ReturnJob(ctx context.Context, jobID, reason string) (model.DeliveryJob, error) {
	var j model.DeliveryJob
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/return", map[string]any{"reason": reason}, &j)
	return j, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		var prob struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&prob) == nil {
			if prob.Title != "" {
				apiErr.Title = prob.Title
			}
			apiErr.Detail = prob.Detail
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
