package share

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Link types reported to the client.
const (
	TypeDirect = "direct"
	TypeLong   = "long"
)

// Link is a shareable URL for a payload.
type Link struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// LinkerConfig configures link construction. Without an Endpoint every link
// is a long link embedding the encoded payload.
type LinkerConfig struct {
	Endpoint string // shortlink service, POSTed the payload JSON
	Token    string // bearer token for Endpoint
	BaseURL  string // public origin for long links
	Timeout  time.Duration
}

// Linker builds share links.
type Linker struct {
	cfg    LinkerConfig
	http   *http.Client
	logger *zap.Logger
}

// NewLinker creates a Linker.
func NewLinker(cfg LinkerConfig, logger *zap.Logger) *Linker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Linker{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("share"),
	}
}

// Link returns a direct link from the shortlink service, or a long link when
// none is configured. Shortlink failures are returned, not papered over.
func (l *Linker) Link(ctx context.Context, p Payload) (Link, error) {
	if l.cfg.Endpoint == "" {
		encoded, err := Encode(p)
		if err != nil {
			return Link{}, err
		}
		return Link{URL: l.cfg.BaseURL + "/s#" + encoded, Type: TypeLong}, nil
	}
	return l.shorten(ctx, p)
}

func (l *Linker) shorten(ctx context.Context, p Payload) (Link, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Link{}, fmt.Errorf("share: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Link{}, fmt.Errorf("share: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.cfg.Token)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return Link{}, fmt.Errorf("share: shortlink request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Link{}, fmt.Errorf("share: read shortlink response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		l.logger.Warn("shortlink service error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return Link{}, fmt.Errorf("share: shortlink returned status %d", resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Link{}, fmt.Errorf("share: parse shortlink response: %w", err)
	}
	if out.URL == "" {
		return Link{}, fmt.Errorf("share: shortlink response has no url")
	}
	return Link{URL: out.URL, Type: TypeDirect}, nil
}
