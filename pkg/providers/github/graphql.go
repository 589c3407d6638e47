package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/engine"
)

// defaultEndpoint is the GitHub GraphQL endpoint.
const defaultEndpoint = "https://api.github.com/graphql"

// graphQLClient posts GraphQL documents to one endpoint with a bearer token.
// Transport-level retries (5xx, connection failures) are owned by the
// underlying retryablehttp client; the engine never retries.
type graphQLClient struct {
	http     *retryablehttp.Client
	endpoint string
	token    string
	logger   zerolog.Logger
}

func newGraphQLClient(endpoint, token string, logger zerolog.Logger) *graphQLClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil

	return &graphQLClient{
		http:     client,
		endpoint: endpoint,
		token:    token,
		logger:   logger.With().Str("component", "github-graphql").Logger(),
	}
}

// graphQLError is one error entry in a GraphQL response envelope.
type graphQLError struct {
	Type    string   `json:"type,omitempty"`
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

// pageInfo is the standard cursor pagination block.
type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// do posts one GraphQL document and decodes the data payload into out.
// GraphQL-level errors are mapped onto the classified error scheme.
func (c *graphQLClient) do(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return engine.NewProviderError(engine.ErrorClassPermanent, "failed to encode GraphQL request", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return engine.NewProviderError(engine.ErrorClassPermanent, "failed to build GraphQL request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return engine.NewCancelledError(ctx.Err())
		}
		return engine.NewProviderError(engine.ErrorClassTransient, "GraphQL request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.NewProviderError(engine.ErrorClassTransient, "failed to read GraphQL response", err)
	}
	c.logger.Trace().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("graphql call")

	if err := classifyHTTPStatus(resp, body); err != nil {
		return err
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return engine.NewProviderError(engine.ErrorClassTransient, "malformed GraphQL response", err)
	}
	if len(envelope.Errors) > 0 {
		return classifyGraphQLErrors(envelope.Errors)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return engine.NewProviderError(engine.ErrorClassPermanent, "failed to decode GraphQL data", err)
		}
	}
	return nil
}

// classifyHTTPStatus maps non-200 responses onto the error taxonomy.
// retryablehttp has already exhausted its retries by the time a 5xx or 429
// reaches this point.
func classifyHTTPStatus(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return engine.NewAuthenticationError("GitHub rejected the token", nil)
	case resp.StatusCode == http.StatusForbidden && rateLimited(resp, body):
		return engine.NewThrottledError("GitHub rate limit exhausted", nil)
	case resp.StatusCode == http.StatusForbidden:
		return engine.NewProviderError(engine.ErrorClassPermanent,
			"GitHub denied the request: "+truncate(body), nil)
	case resp.StatusCode >= 500:
		return engine.NewProviderError(engine.ErrorClassTransient,
			fmt.Sprintf("GitHub returned %d", resp.StatusCode), nil)
	default:
		return engine.NewProviderError(engine.ErrorClassPermanent,
			fmt.Sprintf("GitHub returned %d: %s", resp.StatusCode, truncate(body)), nil)
	}
}

func rateLimited(resp *http.Response, body []byte) bool {
	return resp.Header.Get("X-RateLimit-Remaining") == "0" ||
		strings.Contains(strings.ToLower(string(body)), "rate limit")
}

// classifyGraphQLErrors maps GraphQL error types onto the taxonomy: missing
// nodes are permanent, rate limiting is throttled, everything else is a
// permanent provider error carrying the first message.
func classifyGraphQLErrors(errs []graphQLError) error {
	first := errs[0]
	switch first.Type {
	case "NOT_FOUND":
		return engine.NewProviderError(engine.ErrorClassPermanent, "not found: "+first.Message, nil)
	case "RATE_LIMITED":
		return engine.NewThrottledError("GitHub rate limited: "+first.Message, nil)
	case "FORBIDDEN", "INSUFFICIENT_SCOPES":
		return engine.NewAuthenticationError("GitHub denied the operation: "+first.Message, nil)
	default:
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Message
		}
		return engine.NewProviderError(engine.ErrorClassPermanent,
			"GraphQL error: "+strings.Join(msgs, "; "), nil)
	}
}

func truncate(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
