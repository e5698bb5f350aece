package render

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/content"
)

// TokenSource returns the bearer token for service calls.
type TokenSource func() (string, error)

// PermalinkClient is a content.PermalinkIssuer backed by the web app's
// dashboard permalink API.
type PermalinkClient struct {
	base   string
	token  TokenSource
	client *client
}

// NewPermalinkClient creates a permalink client rooted at the web app URL.
func NewPermalinkClient(baseURL string, token TokenSource, cfg Config, logger *zap.SugaredLogger) *PermalinkClient {
	return &PermalinkClient{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: newClient(cfg, logger),
	}
}

type permalinkResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// CreatePermalink implements content.PermalinkIssuer.
func (p *PermalinkClient) CreatePermalink(ctx context.Context, dashboardID string, state content.PermalinkState) (string, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return "", errors.Wrap(err, "marshal permalink state")
	}
	var token string
	if p.token != nil {
		if token, err = p.token(); err != nil {
			return "", errors.Wrap(err, "permalink token")
		}
	}

	endpoint := fmt.Sprintf("%s/api/v1/dashboard/%s/permalink", p.base, url.PathEscape(dashboardID))
	resp, err := p.client.do(ctx, http.MethodPost, endpoint, token, "application/json",
		func() []byte { return payload })
	if err != nil {
		return "", err
	}

	var out permalinkResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", errors.Wrap(err, "decode permalink response")
	}
	if out.Key == "" {
		return "", errors.New("permalink response has no key")
	}
	return out.Key, nil
}
