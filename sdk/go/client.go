package dealguardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal dealguard HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credential is set; servers
	// accept it only when legacy actor headers are enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Account struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type Opportunity struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	AccountID *string `json:"account_id,omitempty"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type Quote struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	OpportunityID string `json:"opportunity_id"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

type Contract struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	State     string `json:"state"`
	CreatedAt string `json:"created_at"`
}

// Record is a row returned by the filtered query endpoint.
type Record struct {
	LogicalName string         `json:"logical_name"`
	ID          string         `json:"id"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

type Condition struct {
	Attribute string `json:"attribute"`
	Operator  string `json:"operator"`
	Values    []any  `json:"values,omitempty"`
}

type Query struct {
	Entity     string      `json:"entity"`
	Columns    []string    `json:"columns,omitempty"`
	Conditions []Condition `json:"conditions"`
	Top        int         `json:"top,omitempty"`
}

// Validation is the dry-run outcome for deleting an opportunity.
type Validation struct {
	OpportunityID string `json:"opportunity_id"`
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
	ReasonClass   string `json:"reason_class,omitempty"`
	Rule          string `json:"rule,omitempty"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code, Message and Details are filled
// from the error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ReasonClass returns the denial class of a blocked deletion.
func (e *APIError) ReasonClass() string {
	s, _ := e.Details["reason_class"].(string)
	return s
}

// IsDeletionBlocked reports whether err is a 409 deletion_blocked response.
func IsDeletionBlocked(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "deletion_blocked"
}

func (c *Client) CreateAccount(ctx context.Context, name string) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodPost, "accounts", map[string]any{"name": name}, &resp)
	return resp, err
}

// CreateOpportunity creates an opportunity; accountID and status may be empty.
func (c *Client) CreateOpportunity(ctx context.Context, name, accountID, status string) (Opportunity, error) {
	body := map[string]any{"name": name}
	if accountID != "" {
		body["account_id"] = accountID
	}
	if status != "" {
		body["status"] = status
	}
	var resp Opportunity
	err := c.do(ctx, http.MethodPost, "opportunities", body, &resp)
	return resp, err
}

func (c *Client) GetOpportunity(ctx context.Context, id string) (Opportunity, error) {
	var resp Opportunity
	err := c.do(ctx, http.MethodGet, "opportunities/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// DeleteOpportunity deletes an opportunity. A guard denial comes back as an
// *APIError for which IsDeletionBlocked is true.
func (c *Client) DeleteOpportunity(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "opportunities/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ValidateOpportunity(ctx context.Context, id string) (Validation, error) {
	var resp Validation
	err := c.do(ctx, http.MethodPost, "opportunities/"+url.PathEscape(id)+"/validate", nil, &resp)
	return resp, err
}

func (c *Client) CreateQuote(ctx context.Context, opportunityID, name string) (Quote, error) {
	var resp Quote
	err := c.do(ctx, http.MethodPost, "quotes", map[string]any{"name": name, "opportunity_id": opportunityID}, &resp)
	return resp, err
}

func (c *Client) CreateContract(ctx context.Context, accountID, name, state string) (Contract, error) {
	body := map[string]any{"name": name, "account_id": accountID}
	if state != "" {
		body["state"] = state
	}
	var resp Contract
	err := c.do(ctx, http.MethodPost, "contracts", body, &resp)
	return resp, err
}

func (c *Client) SetContractState(ctx context.Context, id, state string) error {
	return c.do(ctx, http.MethodPost, "contracts/"+url.PathEscape(id)+"/state", map[string]any{"state": state}, nil)
}

// Query runs a filtered record query.
func (c *Client) Query(ctx context.Context, q Query) ([]Record, error) {
	if q.Conditions == nil {
		q.Conditions = []Condition{}
	}
	var resp struct {
		Items []Record `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, "records/query", q, &resp)
	return resp.Items, err
}

// Rules returns the enabled deletion rules in evaluation order.
func (c *Client) Rules(ctx context.Context) ([]string, error) {
	var resp struct {
		Rules []string `json:"rules"`
	}
	err := c.do(ctx, http.MethodGet, "rules", nil, &resp)
	return resp.Rules, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
