// Work item tracking REST [WorkItemService] implementation
package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
)

const (
	apiVersion        = "7.1"
	commentsVersion   = "7.1-preview.4"
	defaultTimeout    = 5 * time.Minute
	defaultUserAgent  = "witx"
	maxIdsPerRead     = 200
	jsonContentType   = "application/json"
	patchContentType  = "application/json-patch+json"
	binaryContentType = "application/octet-stream"
)

// Client talks to one work item tracking account.
//
// Requests are paced by a token bucket limiter shared by every goroutine using the client.
type Client struct {
	account    string
	project    string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// ClientOption customizes a [Client].
type ClientOption func(*clientOptions)

type clientOptions struct {
	base      *http.Client
	userAgent string
}

// WithHTTPClient sets the base client whose transport and timeout are wrapped with authentication.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.base = c }
}

func WithUserAgent(ua string) ClientOption {
	return func(o *clientOptions) { o.userAgent = ua }
}

// NewClient creates a client for the given connection.
//
// auth = "bearer" sends the token through an [oauth2.StaticTokenSource]; anything else sends it as a
// personal access token with basic authentication.
func NewClient(conn shared.ConnectionConfig, opts ...ClientOption) *Client {
	o := clientOptions{userAgent: defaultUserAgent}
	for _, opt := range opts {
		opt(&o)
	}
	if o.base == nil {
		o.base = &http.Client{Timeout: defaultTimeout}
	}

	limit := rate.Inf
	if conn.RequestsPerSecond > 0 {
		limit = rate.Limit(conn.RequestsPerSecond)
	}

	return &Client{
		account:    strings.TrimRight(conn.Account, "/"),
		project:    conn.Project,
		httpClient: authenticatedClient(conn, o.base),
		limiter:    rate.NewLimiter(limit, 1),
		userAgent:  o.userAgent,
	}
}

func authenticatedClient(conn shared.ConnectionConfig, base *http.Client) *http.Client {
	if conn.Auth == "bearer" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		c := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: conn.Token, TokenType: "Bearer"}))
		c.Timeout = base.Timeout
		return c
	}
	return &http.Client{
		Timeout:   base.Timeout,
		Transport: &patTransport{token: conn.Token, base: base.Transport},
	}
}

// patTransport adds basic authentication with an empty user name.
type patTransport struct {
	token string
	base  http.RoundTripper
}

func (t *patTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+t.token)))
	return base.RoundTrip(r)
}

func (c *Client) Account() string { return c.account }

func (c *Client) Project() string { return c.project }

// HTTPClient exposes the authenticated client for raw API access.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

func (c *Client) endpoint(projectScoped bool, path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if params.Get("api-version") == "" {
		params.Set("api-version", apiVersion)
	}
	base := c.account
	if projectScoped {
		base += "/" + url.PathEscape(c.project)
	}
	return base + path + "?" + params.Encode()
}

func (c *Client) doRequest(ctx context.Context, method, apiURL, contentType string, body io.Reader, result any) error {
	data, err := c.do(ctx, method, apiURL, contentType, nil, body)
	if err != nil {
		return err
	}
	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, apiURL, contentType string, headers map[string]string, body io.Reader) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", jsonContentType)
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return bytes.NewReader(data), nil
}

// Query runs a WIQL query scoped to the client's project.
//
// Calls POST /{project}/_apis/wit/wiql.
func (c *Client) Query(ctx context.Context, wiql string, top int) ([]int, error) {
	params := url.Values{}
	if top > 0 {
		params.Set("$top", strconv.Itoa(top))
	}
	body, err := jsonBody(map[string]string{"query": wiql})
	if err != nil {
		return nil, err
	}

	var result struct {
		WorkItems []struct {
			ID int `json:"id"`
		} `json:"workItems"`
	}
	if err := c.doRequest(ctx, http.MethodPost, c.endpoint(true, "/_apis/wit/wiql", params), jsonContentType, body, &result); err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(result.WorkItems))
	for _, wi := range result.WorkItems {
		ids = append(ids, wi.ID)
	}
	return ids, nil
}

// GetWorkItems reads work items in chunks of 200. Deleted or inaccessible ids are omitted.
//
// Calls GET /_apis/wit/workitems.
func (c *Client) GetWorkItems(ctx context.Context, ids []int, opts GetOptions) ([]*models.WorkItem, error) {
	items := make([]*models.WorkItem, 0, len(ids))
	for start := 0; start < len(ids); start += maxIdsPerRead {
		chunk := ids[start:min(start+maxIdsPerRead, len(ids))]

		strIDs := make([]string, len(chunk))
		for i, id := range chunk {
			strIDs[i] = strconv.Itoa(id)
		}
		params := url.Values{"ids": {strings.Join(strIDs, ",")}, "errorPolicy": {"omit"}}
		switch {
		case opts.Relations:
			params.Set("$expand", "relations")
		case len(opts.Fields) > 0:
			params.Set("fields", strings.Join(opts.Fields, ","))
		}

		var result struct {
			Value []*models.WorkItem `json:"value"`
		}
		if err := c.doRequest(ctx, http.MethodGet, c.endpoint(false, "/_apis/wit/workitems", params), "", nil, &result); err != nil {
			return nil, err
		}
		for _, wi := range result.Value {
			if wi != nil {
				items = append(items, wi)
			}
		}
	}
	return items, nil
}

// ExecuteBatch submits up to 200 requests in one call.
//
// Calls POST /_apis/wit/$batch.
func (c *Client) ExecuteBatch(ctx context.Context, requests []models.BatchRequest) ([]models.BatchResponse, error) {
	body, err := jsonBody(requests)
	if err != nil {
		return nil, err
	}

	var result struct {
		Count int                    `json:"count"`
		Value []models.BatchResponse `json:"value"`
	}
	if err := c.doRequest(ctx, http.MethodPost, c.endpoint(false, "/_apis/wit/$batch", nil), jsonContentType, body, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// UpdateWorkItem applies ops to a single work item.
//
// Calls PATCH /_apis/wit/workitems/{id}.
func (c *Client) UpdateWorkItem(ctx context.Context, id int, ops []models.PatchOperation, opts WriteOptions) (*models.WorkItem, error) {
	body, err := jsonBody(ops)
	if err != nil {
		return nil, err
	}

	var item models.WorkItem
	apiURL := c.endpoint(false, fmt.Sprintf("/_apis/wit/workitems/%d", id), writeParams(opts))
	if err := c.doRequest(ctx, http.MethodPatch, apiURL, patchContentType, body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetComments follows continuation tokens until every comment is read.
//
// Calls GET /{project}/_apis/wit/workItems/{id}/comments.
func (c *Client) GetComments(ctx context.Context, id int) ([]models.Comment, error) {
	var comments []models.Comment
	token := ""
	for {
		params := url.Values{"api-version": {commentsVersion}, "order": {"asc"}}
		if token != "" {
			params.Set("continuationToken", token)
		}

		var page struct {
			Comments          []models.Comment `json:"comments"`
			ContinuationToken string           `json:"continuationToken"`
		}
		apiURL := c.endpoint(true, fmt.Sprintf("/_apis/wit/workItems/%d/comments", id), params)
		if err := c.doRequest(ctx, http.MethodGet, apiURL, "", nil, &page); err != nil {
			return nil, err
		}
		comments = append(comments, page.Comments...)

		if page.ContinuationToken == "" || len(page.Comments) == 0 {
			return comments, nil
		}
		token = page.ContinuationToken
	}
}

// GetUpdates reads one page of revision deltas.
//
// Calls GET /_apis/wit/workItems/{id}/updates.
func (c *Client) GetUpdates(ctx context.Context, id, top, skip int) ([]models.WorkItemUpdate, error) {
	params := url.Values{"$top": {strconv.Itoa(top)}, "$skip": {strconv.Itoa(skip)}}

	var result struct {
		Value []models.WorkItemUpdate `json:"value"`
	}
	apiURL := c.endpoint(false, fmt.Sprintf("/_apis/wit/workItems/%d/updates", id), params)
	if err := c.doRequest(ctx, http.MethodGet, apiURL, "", nil, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// QueryArtifactURIs finds the work items that link to each uri.
//
// Calls POST /_apis/wit/artifacturiquery.
func (c *Client) QueryArtifactURIs(ctx context.Context, uris []string) (map[string][]int, error) {
	body, err := jsonBody(map[string][]string{"artifactUris": uris})
	if err != nil {
		return nil, err
	}

	var result struct {
		Results map[string][]struct {
			ID int `json:"id"`
		} `json:"artifactUrisQueryResult"`
	}
	if err := c.doRequest(ctx, http.MethodPost, c.endpoint(false, "/_apis/wit/artifacturiquery", nil), jsonContentType, body, &result); err != nil {
		return nil, err
	}

	out := make(map[string][]int, len(result.Results))
	for uri, refs := range result.Results {
		ids := make([]int, 0, len(refs))
		for _, ref := range refs {
			ids = append(ids, ref.ID)
		}
		out[uri] = ids
	}
	return out, nil
}

func writeParams(opts WriteOptions) url.Values {
	params := url.Values{}
	if opts.BypassRules {
		params.Set("bypassRules", "true")
	}
	if opts.SuppressNotifications {
		params.Set("suppressNotifications", "true")
	}
	return params
}

// CreateRequest builds the batch entry creating a work item of the given type.
func CreateRequest(project, workItemType string, ops []models.PatchOperation, opts WriteOptions) models.BatchRequest {
	params := writeParams(opts)
	params.Set("api-version", apiVersion)
	return models.BatchRequest{
		Method:  http.MethodPatch,
		URI:     fmt.Sprintf("/%s/_apis/wit/workitems/$%s?%s", url.PathEscape(project), url.PathEscape(workItemType), params.Encode()),
		Headers: map[string]string{"Content-Type": patchContentType},
		Body:    ops,
	}
}

// UpdateRequest builds the batch entry patching an existing work item.
func UpdateRequest(id int, ops []models.PatchOperation, opts WriteOptions) models.BatchRequest {
	params := writeParams(opts)
	params.Set("api-version", apiVersion)
	return models.BatchRequest{
		Method:  http.MethodPatch,
		URI:     fmt.Sprintf("/_apis/wit/workitems/%d?%s", id, params.Encode()),
		Headers: map[string]string{"Content-Type": patchContentType},
		Body:    ops,
	}
}

// BatchURL is the absolute batch write endpoint of an account, used for diagnostics.
func BatchURL(account string) string {
	return fmt.Sprintf("%s/_apis/wit/$batch?api-version=%s", strings.TrimRight(account, "/"), apiVersion)
}
