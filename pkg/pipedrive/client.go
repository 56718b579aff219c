// Package pipedrive is a minimal REST client for the Pipedrive v1 API: the
// organization field metadata, organization search and update, and notes.
package pipedrive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/org-enricher/internal/model"
	"github.com/sells-group/org-enricher/internal/resilience"
)

const (
	defaultBaseURL = "https://api.pipedrive.com"
	fieldsPageSize = 500
)

// Client defines the Pipedrive operations used by the enrichment pipeline.
type Client interface {
	OrganizationFields(ctx context.Context) ([]Field, error)
	SearchOrganizations(ctx context.Context, term string) ([]OrganizationMatch, error)
	UpdateOrganization(ctx context.Context, id int64, fields map[string]any) error
	CreateNote(ctx context.Context, note Note) (int64, error)
}

// Field is one organization field definition. Options is only set for
// enumeration-typed fields (enum, set).
type Field struct {
	ID        int64                     `json:"id"`
	Key       string                    `json:"key"`
	Name      string                    `json:"name"`
	FieldType string                    `json:"field_type"`
	Options   []model.EnumerationOption `json:"options"`
}

// OrganizationMatch is one hit of an organization search.
type OrganizationMatch struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	ResultScore float64 `json:"-"`
}

// Note is a free-text note attached to an organization.
type Note struct {
	Content        string `json:"content"`
	OrganizationID int64  `json:"org_id"`
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
	Extra   struct {
		Pagination struct {
			MoreItems bool `json:"more_items_in_collection"`
			NextStart int  `json:"next_start"`
		} `json:"pagination"`
	} `json:"additional_data"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API host, e.g. for a company domain or tests.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetryPolicy sets the policy used for idempotent reads.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *httpClient) {
		if l != nil {
			c.log = l
		}
	}
}

type httpClient struct {
	apiToken string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.Policy
	log      *zap.Logger
}

// NewClient creates a Pipedrive client authenticated with an API token.
func NewClient(apiToken string, opts ...Option) Client {
	c := &httpClient{
		apiToken: apiToken,
		baseURL:  defaultBaseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		retry:    resilience.DefaultPolicy(),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.Logger == nil {
		c.retry.Logger = c.log
	}
	return c
}

func (c *httpClient) OrganizationFields(ctx context.Context) ([]Field, error) {
	var all []Field
	start := 0
	for {
		q := url.Values{}
		q.Set("start", strconv.Itoa(start))
		q.Set("limit", strconv.Itoa(fieldsPageSize))

		env, err := resilience.Get(ctx, c.retry, "pipedrive.organization_fields", func(ctx context.Context) (*envelope, error) {
			return c.do(ctx, http.MethodGet, "/v1/organizationFields", q, nil)
		})
		if err != nil {
			return nil, eris.Wrap(err, "pipedrive: organization fields")
		}

		var page []Field
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &page); err != nil {
				return nil, eris.Wrap(err, "pipedrive: decode organization fields")
			}
		}
		all = append(all, page...)

		if !env.Extra.Pagination.MoreItems || env.Extra.Pagination.NextStart <= start {
			return all, nil
		}
		start = env.Extra.Pagination.NextStart
	}
}

func (c *httpClient) SearchOrganizations(ctx context.Context, term string) ([]OrganizationMatch, error) {
	if term == "" {
		return nil, eris.New("pipedrive: search term is required")
	}
	q := url.Values{}
	q.Set("term", term)
	q.Set("fields", "name")

	env, err := resilience.Get(ctx, c.retry, "pipedrive.search_organizations", func(ctx context.Context) (*envelope, error) {
		return c.do(ctx, http.MethodGet, "/v1/organizations/search", q, nil)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipedrive: search organizations %q", term)
	}

	var data struct {
		Items []struct {
			ResultScore float64 `json:"result_score"`
			Item        struct {
				ID      int64   `json:"id"`
				Name    string  `json:"name"`
				Address *string `json:"address"`
			} `json:"item"`
		} `json:"items"`
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, eris.Wrap(err, "pipedrive: decode search results")
		}
	}

	matches := make([]OrganizationMatch, 0, len(data.Items))
	for _, it := range data.Items {
		m := OrganizationMatch{ID: it.Item.ID, Name: it.Item.Name, ResultScore: it.ResultScore}
		if it.Item.Address != nil {
			m.Address = *it.Item.Address
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (c *httpClient) UpdateOrganization(ctx context.Context, id int64, fields map[string]any) error {
	if id <= 0 {
		return eris.New("pipedrive: organization id is required")
	}
	if len(fields) == 0 {
		return eris.New("pipedrive: no fields to update")
	}
	if _, err := c.do(ctx, http.MethodPut, "/v1/organizations/"+model.FormatID(id), nil, fields); err != nil {
		return eris.Wrapf(err, "pipedrive: update organization %d", id)
	}
	return nil
}

func (c *httpClient) CreateNote(ctx context.Context, note Note) (int64, error) {
	if note.OrganizationID <= 0 {
		return 0, eris.New("pipedrive: note organization id is required")
	}
	env, err := c.do(ctx, http.MethodPost, "/v1/notes", nil, note)
	if err != nil {
		return 0, eris.Wrapf(err, "pipedrive: create note for organization %d", note.OrganizationID)
	}
	var created struct {
		ID int64 `json:"id"`
	}
	// The note id is informational; an unexpected body shape is not an error.
	_ = json.Unmarshal(env.Data, &created)
	return created.ID, nil
}

// do sends one request and decodes the response envelope. Non-2xx statuses
// become *resilience.StatusError; success=false bodies are errors too.
func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "pipedrive: rate limit")
		}
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("api_token", c.apiToken)
	endpoint := c.baseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, eris.Wrap(err, "pipedrive: marshal request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, eris.Wrap(err, "pipedrive: create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// The url in *url.Error carries the api token.
		var ue *url.Error
		if eris.As(err, &ue) {
			err = ue.Err
		}
		return nil, eris.Wrapf(err, "pipedrive: %s %s", method, path)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "pipedrive: read response")
	}

	c.log.Debug("pipedrive: request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &resilience.StatusError{Service: "pipedrive", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, eris.Wrap(err, "pipedrive: unmarshal response")
	}
	if !env.Success {
		return nil, eris.Errorf("pipedrive: request unsuccessful: %s", env.Error)
	}
	return &env, nil
}
