// Package ipfs talks to a hosted IPFS node over its HTTP RPC API.
package ipfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/modelforge/internal/circuitbreaker"
	"github.com/modelforge/internal/config"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/metrics"
)

// ErrNotConfigured is returned when no gateway credentials are set
var ErrNotConfigured = errors.New("IPFS service not configured")

// AddResult is the node's answer to an add call
type AddResult struct {
	CID  string
	Size int64
}

// Client is an Infura-style IPFS RPC client guarded by a circuit breaker
type Client struct {
	apiEndpoint string
	gatewayURL  string
	projectID   string
	secret      string
	maxSize     int64
	http        *http.Client
	breaker     *circuitbreaker.CircuitBreaker
	logger      *logging.Logger
}

// NewClient creates a client from configuration
func NewClient(cfg *config.IPFSConfig, logger *logging.Logger) *Client {
	return &Client{
		apiEndpoint: strings.TrimRight(cfg.APIEndpoint, "/"),
		gatewayURL:  cfg.GatewayURL,
		projectID:   cfg.ProjectID,
		secret:      cfg.ProjectSecret,
		maxSize:     cfg.MaxUploadSize,
		http:        &http.Client{Timeout: cfg.Timeout},
		breaker:     circuitbreaker.New(circuitbreaker.DefaultConfig("ipfs"), logger),
		logger:      logger.WithComponent("ipfs"),
	}
}

// Configured reports whether credentials are present
func (c *Client) Configured() bool {
	return c.projectID != "" && c.secret != ""
}

// MaxUploadSize is the largest payload accepted for upload
func (c *Client) MaxUploadSize() int64 {
	return c.maxSize
}

// GatewayURL returns the public gateway address for cid
func (c *Client) GatewayURL(cid string) string {
	base := c.gatewayURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + url.PathEscape(cid)
}

// Add uploads content and returns its CID
func (c *Client) Add(ctx context.Context, name string, content io.Reader) (*AddResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if name == "" {
		name = "content"
	}

	var result *AddResult
	err := c.call(ctx, "add", func(ctx context.Context) error {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			part, err := mw.CreateFormFile("file", name)
			if err == nil {
				_, err = io.Copy(part, content)
			}
			if err == nil {
				err = mw.Close()
			}
			pw.CloseWithError(err)
		}()

		body, err := c.post(ctx, "/api/v0/add", url.Values{"pin": {"false"}}, pr, mw.FormDataContentType())
		if err != nil {
			_ = pr.CloseWithError(err)
			return err
		}
		defer body.Close()

		var resp struct {
			Name string `json:"Name"`
			Hash string `json:"Hash"`
			Size string `json:"Size"`
		}
		if err := json.NewDecoder(body).Decode(&resp); err != nil {
			return fmt.Errorf("failed to decode add response: %w", err)
		}
		if resp.Hash == "" {
			return errors.New("add response carried no hash")
		}

		var size int64
		_, _ = fmt.Sscan(resp.Size, &size)
		result = &AddResult{CID: resp.Hash, Size: size}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithField("cid", result.CID).Info("content uploaded to IPFS")
	return result, nil
}

// Cat retrieves content by CID
func (c *Client) Cat(ctx context.Context, cid string) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var data []byte
	err := c.call(ctx, "cat", func(ctx context.Context) error {
		body, err := c.post(ctx, "/api/v0/cat", url.Values{"arg": {cid}}, nil, "")
		if err != nil {
			return err
		}
		defer body.Close()

		limited := io.LimitReader(body, c.maxSize+1)
		data, err = io.ReadAll(limited)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if int64(len(data)) > c.maxSize {
			return fmt.Errorf("content exceeds %d bytes", c.maxSize)
		}
		return nil
	})
	return data, err
}

// Pin asks the node to keep cid
func (c *Client) Pin(ctx context.Context, cid string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	err := c.call(ctx, "pin", func(ctx context.Context) error {
		body, err := c.post(ctx, "/api/v0/pin/add", url.Values{"arg": {cid}}, nil, "")
		if err != nil {
			return err
		}
		defer body.Close()

		var resp struct {
			Pins []string `json:"Pins"`
		}
		if err := json.NewDecoder(body).Decode(&resp); err != nil {
			return fmt.Errorf("failed to decode pin response: %w", err)
		}
		return nil
	})
	if err == nil {
		c.logger.WithField("cid", cid).Info("content pinned")
	}
	return err
}

// call runs one gateway operation through the breaker and records its outcome
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := c.breaker.Execute(ctx, fn)
	result := "success"
	if err != nil {
		result = "error"
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			result = "rejected"
		}
		c.logger.WithError(err).WithField("operation", op).Warn("IPFS request failed")
	}
	metrics.IPFSRequests.WithLabelValues(op, result).Inc()
	return err
}

func (c *Client) post(ctx context.Context, path string, query url.Values, body io.Reader, contentType string) (io.ReadCloser, error) {
	endpoint := c.apiEndpoint + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.projectID, c.secret)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}
