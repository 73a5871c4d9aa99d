package veeam

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/metrics"
)

const (
	// DefaultAPIVersion is the x-api-version header value for VBR 12.1
	DefaultAPIVersion = "1.2-rev0"

	tokenPath = "/api/oauth2/token"
)

// Options configures a Client
type Options struct {
	URL           string // base server URL, e.g. https://vbr.local:9419
	Username      string
	Password      string
	APIVersion    string // defaults to DefaultAPIVersion
	SkipTLSVerify bool   // VBR ships with a self-signed certificate
	MountHost     string // host that exposes the VeeamFLR share, defaults to the API host
	Timeout       time.Duration
}

// Client talks to the Veeam Backup & Replication REST API and tracks the
// mount sessions it creates
type Client struct {
	baseURL    string
	username   string
	password   string
	apiVersion string
	mountHost  string
	httpClient *http.Client

	mu       sync.Mutex
	token    string
	sessions map[string]*MountSession // keyed by session ID
}

// NewClient builds a Client. It does not contact the server; call
// Authenticate before issuing requests.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.URL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", opts.URL)
	}

	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	mountHost := opts.MountHost
	if mountHost == "" {
		mountHost = u.Hostname()
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	transport := &http.Transport{}
	if opts.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL:    base,
		username:   opts.Username,
		password:   opts.Password,
		apiVersion: apiVersion,
		mountHost:  mountHost,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		sessions:   make(map[string]*MountSession),
	}, nil
}

// BaseURL returns the configured server URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Authenticated reports whether the client holds a bearer token
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

// Authenticate obtains a bearer token via the OAuth2 password grant
func (c *Client) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-version", c.apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return authError(resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return fmt.Errorf("token response contained no access token")
	}

	c.mu.Lock()
	c.token = payload.AccessToken
	c.mu.Unlock()
	metrics.VeeamConnected.Set(1)

	slog.Info("authenticated with Veeam server", "url", c.baseURL)
	return nil
}

// do issues an authenticated request. A 401 triggers one re-authentication
// and retry before the error is returned.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	raw, err := c.doOnce(ctx, method, path, query, body)
	if err != nil && IsUnauthorized(err) {
		if authErr := c.Authenticate(ctx); authErr != nil {
			return nil, authErr
		}
		return c.doOnce(ctx, method, path, query, body)
	}
	return raw, err
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return nil, fmt.Errorf("not authenticated")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-version", c.apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.VeeamRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	metrics.VeeamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := extractAPIMessage(data)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	return data, nil
}

// extractAPIMessage pulls the human message out of a Veeam error body
func extractAPIMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

// unwrapData handles responses that nest the payload under a "data" key
func unwrapData(raw json.RawMessage) json.RawMessage {
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Data) > 0 {
		return wrapper.Data
	}
	return raw
}

// BackupInfo is a backup object as reported by the server
type BackupInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PlatformName string    `json:"platformName"`
	CreationTime time.Time `json:"creationTime"`
	PolicyID     string    `json:"policyId,omitempty"`
}

// BackupFilter narrows the backup listing
type BackupFilter struct {
	VMName    string
	StartDate string // RFC3339 or yyyy-mm-dd, passed through
	EndDate   string
}

// Backups lists backups known to the server
func (c *Client) Backups(ctx context.Context, filter BackupFilter) ([]BackupInfo, error) {
	query := url.Values{}
	if filter.VMName != "" {
		query.Set("vmName", filter.VMName)
	}
	if filter.StartDate != "" {
		query.Set("startDate", filter.StartDate)
	}
	if filter.EndDate != "" {
		query.Set("endDate", filter.EndDate)
	}

	raw, err := c.do(ctx, http.MethodGet, "/api/v1/backups", query, nil)
	if err != nil {
		return nil, err
	}

	var backups []BackupInfo
	if err := json.Unmarshal(unwrapData(raw), &backups); err != nil {
		return nil, fmt.Errorf("failed to decode backups: %w", err)
	}
	return backups, nil
}

// RestorePoint is a point-in-time state of a backed-up machine
type RestorePoint struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	BackupID     string    `json:"backupId"`
	PlatformName string    `json:"platformName"`
	CreationTime time.Time `json:"creationTime"`
}

// RestorePoints lists restore points for a backup, as returned by the server
func (c *Client) RestorePoints(ctx context.Context, backupID string) ([]RestorePoint, error) {
	query := url.Values{}
	query.Set("backupId", backupID)

	raw, err := c.do(ctx, http.MethodGet, "/api/v1/restorePoints", query, nil)
	if err != nil {
		return nil, err
	}

	var points []RestorePoint
	if err := json.Unmarshal(unwrapData(raw), &points); err != nil {
		return nil, fmt.Errorf("failed to decode restore points: %w", err)
	}
	return points, nil
}

// newestRestorePoint returns the restore point with the latest creation time
func newestRestorePoint(points []RestorePoint) *RestorePoint {
	if len(points) == 0 {
		return nil
	}
	newest := &points[0]
	for i := range points[1:] {
		p := &points[i+1]
		if p.CreationTime.After(newest.CreationTime) {
			newest = p
		}
	}
	return newest
}
