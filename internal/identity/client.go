package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/EternisAI/radsec-provisioner/internal/retry"
)

const (
	keyLoginPath = "/cvcue/keyLogin"
	nadAddPath   = "/api/config.nad.add"
	nadListPath  = "/api/config.nad.list"
	caGetPath    = "/api/config.radsec.ca.get"
	csrSignPath  = "/api/cert.csr.sign"

	orgIDHeader = "X-ORG-ID"

	maxBodySize = 1 << 20

	DefaultBaseURL = "https://agni.arista.io"
	DefaultVendor  = "arista"
	DefaultTimeout = 30 * time.Second
)

type Config struct {
	BaseURL  string        `mapstructure:"base_url"`
	KeyID    string        `mapstructure:"key_id"`
	KeyValue string        `mapstructure:"key_value"`
	OrgID    string        `mapstructure:"org_id"`
	Vendor   string        `mapstructure:"vendor"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retry    retry.Policy  `mapstructure:"retry"`
}

// Client talks to the identity service REST API. Every call is retried
// according to the configured policy.
type Client struct {
	baseURL    string
	vendor     string
	httpClient *http.Client
	retry      retry.Policy
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	vendor := cfg.Vendor
	if vendor == "" {
		vendor = DefaultVendor
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		vendor:  vendor,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry: retryPolicy(cfg.Retry),
	}
}

// retryPolicy fills unset fields from the default fixed policy.
func retryPolicy(p retry.Policy) retry.Policy {
	def := retry.DefaultPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Delay <= 0 {
		p.Delay = def.Delay
	}
	return p
}

// postJSON performs a single POST and decodes a 200 answer into out.
func (c *Client) postJSON(ctx context.Context, session Session, path string, header http.Header, in, out any) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	uri := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(reqBody))
	if err != nil {
		return retry.Permanent(fmt.Errorf("POST %q, request creation failed: %w", uri, err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	if session != nil {
		session.Apply(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach identity service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &statusError{StatusCode: resp.StatusCode, Message: messageFromBody(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
