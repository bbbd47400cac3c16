package kb

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

	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
)

type httpConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// httpService talks to a remote knowledge-base service over JSON/HTTP.
type httpService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func init() {
	Register("http", createHTTPService)
}

func createHTTPService(args interface{}) (Service, error) {
	cfg := &httpConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kb http base_url is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpService{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *httpService) Name() string {
	return "http"
}

type httpIngestResponse struct {
	JobRef string `json:"job_ref"`
}

func (s *httpService) StartIngestion(ctx context.Context, req IngestRequest) (string, error) {
	var out httpIngestResponse
	if err := s.call(ctx, http.MethodPost, "/v1/ingestions", req, &out); err != nil {
		return "", err
	}
	if out.JobRef == "" {
		return "", fmt.Errorf("kb ingestion response has no job_ref")
	}
	return out.JobRef, nil
}

func (s *httpService) GetJobStatus(ctx context.Context, jobRef string) (*JobStatus, error) {
	var out JobStatus
	path := "/v1/ingestions/" + url.PathEscape(jobRef)
	if err := s.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *httpService) DeleteDocument(ctx context.Context, ref FileRef) error {
	path := "/v1/documents/" + url.PathEscape(ref.TenantID) + "/" + url.PathEscape(ref.FileID)
	err := s.call(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && appErr.IsNotFound(err) {
		// Deleting an absent document is success.
		return nil
	}
	return err
}

func (s *httpService) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	var out RetrieveResult
	if err := s.call(ctx, http.MethodPost, "/v1/retrieve", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *httpService) call(ctx context.Context, method, path string, in interface{}, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return appErr.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return appErr.ErrThrottled
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("kb request failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
