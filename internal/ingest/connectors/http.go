package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"canon/internal/ingest"
)

// HTTPConfig describes a JSON search endpoint.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	Path    string `yaml:"path,omitempty"`
	// QueryParam carries the query text. Defaults to "q".
	QueryParam string            `yaml:"query_param,omitempty"`
	Params     map[string]string `yaml:"params,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	// APIKey is sent as a bearer token when set.
	APIKey string `yaml:"-"`
	// APIKeyEnv names the environment variable the catalog reads APIKey from.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// HTTP fetches a query from a JSON API.
type HTTP struct {
	id     string
	client *resty.Client
	cfg    HTTPConfig
	memo   *memo
}

// NewHTTP creates an HTTP connector. Retries are left to the fetcher, so the
// resty client never retries on its own.
func NewHTTP(id string, cfg HTTPConfig, timeout time.Duration) (*HTTP, error) {
	if id == "" {
		return nil, errors.New("connector id is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("connector %s: invalid base url: %w", id, err)
	}
	if !base.IsAbs() || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("connector %s: base url must be absolute http(s), got %q", id, cfg.BaseURL)
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = "q"
	}
	if timeout <= 0 {
		timeout = ingest.DefaultTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &HTTP{id: id, client: client, cfg: cfg, memo: newMemo(DefaultMemoSize)}, nil
}

// ID implements ingest.Connector.
func (c *HTTP) ID() string {
	return c.id
}

// Fetch implements ingest.Connector.
func (c *HTTP) Fetch(ctx context.Context, query string) (ingest.RawPayload, error) {
	req := c.client.R().
		SetContext(ctx).
		SetQueryParams(c.cfg.Params).
		SetQueryParam(c.cfg.QueryParam, query)

	resp, err := req.Get(c.cfg.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ingest.RawPayload{}, ctxErr
		}
		return ingest.RawPayload{}, ingest.NewConnectorError(ingest.ErrorProviderOutage, c.id, "request failed", err)
	}
	if cerr := statusError(c.id, resp.StatusCode()); cerr != nil {
		return ingest.RawPayload{}, cerr
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return ingest.RawPayload{}, ingest.NewConnectorError(ingest.ErrorBadData, c.id, "response is not valid json", nil)
	}
	return ingest.RawPayload{
		ConnectorID: c.id,
		Query:       query,
		ContentType: resp.Header().Get("Content-Type"),
		Body:        body,
	}, nil
}

// IsDuplicate implements ingest.Connector. It reports true for a payload
// whose content this connector has already handed out.
func (c *HTTP) IsDuplicate(payload ingest.RawPayload) bool {
	return c.memo.seen(payload)
}

// MarkRecorded implements ingest.RecordMarker.
func (c *HTTP) MarkRecorded(payload ingest.RawPayload) {
	c.memo.remember(payload)
}

// statusError maps an HTTP status onto the connector error taxonomy.
func statusError(id string, code int) *ingest.ConnectorError {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ingest.NewConnectorError(ingest.ErrorAuthentication, id, http.StatusText(code), nil)
	case code == http.StatusNotFound:
		return ingest.NewConnectorError(ingest.ErrorNotFound, id, "no results", nil)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ingest.NewConnectorError(ingest.ErrorTimeout, id, http.StatusText(code), nil)
	case code == http.StatusTooManyRequests:
		return ingest.NewConnectorError(ingest.ErrorRateLimited, id, "rate limited upstream", nil)
	case code >= 500:
		return ingest.NewConnectorError(ingest.ErrorProviderOutage, id, fmt.Sprintf("upstream status %d", code), nil)
	default:
		return ingest.NewConnectorError(ingest.ErrorContractMismatch, id, fmt.Sprintf("unexpected status %d", code), nil)
	}
}
