package inspectlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a minimal Inspectline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Case represents the API case model (partial).
type Case struct {
	ID              string   `json:"id"`
	BusinessID      *string  `json:"business_id,omitempty"`
	BusinessName    string   `json:"business_name"`
	BusinessAddress string   `json:"business_address"`
	EvidenceURLs    []string `json:"evidence_urls"`
	Tags            []string `json:"tags"`
	Status          string   `json:"status"`
	ApprovedBy      *string  `json:"approved_by,omitempty"`
	DeclinedBy      *string  `json:"declined_by,omitempty"`
	DeclineComment  *string  `json:"decline_comment,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

// Assignment is an inspector on a mission order.
type Assignment struct {
	InspectorID string `json:"inspector_id"`
	DisplayName string `json:"display_name"`
	AssignedBy  string `json:"assigned_by"`
	AssignedAt  string `json:"assigned_at"`
}

// Span locates a locked field in a mission order's text, in characters.
type Span struct {
	Field string `json:"field"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Edit replaces Length characters at Offset with Text.
type Edit struct {
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	Text   string `json:"text"`
}

// MissionOrder represents the API mission order model (partial).
type MissionOrder struct {
	ID              string       `json:"id"`
	CaseID          string       `json:"case_id"`
	Title           string       `json:"title"`
	Status          string       `json:"status"`
	DirectorComment *string      `json:"director_comment,omitempty"`
	Inspectors      []Assignment `json:"inspectors"`
	Text            string       `json:"text"`
	Spans           []Span       `json:"spans"`
	UpdatedAt       string       `json:"updated_at"`
}

// Complaint is what a reporter files.
type Complaint struct {
	BusinessID      string   `json:"business_id,omitempty"`
	BusinessName    string   `json:"business_name,omitempty"`
	BusinessAddress string   `json:"business_address,omitempty"`
	ReporterLat     *float64 `json:"reporter_lat,omitempty"`
	ReporterLng     *float64 `json:"reporter_lng,omitempty"`
	ReporterEmail   string   `json:"reporter_email,omitempty"`
	Description     string   `json:"description,omitempty"`
}

// Event represents a log entry.
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

// Change is a change-feed notification.
type Change struct {
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Type       string `json:"type"`
	TS         string `json:"ts"`
}

// APIError wraps non-2xx responses.
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

// FileComplaint files a complaint in one call.
func (c *Client) FileComplaint(ctx context.Context, in Complaint) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, "complaints", in, &resp)
	return resp, err
}

// ListCases lists cases, optionally by status.
func (c *Client) ListCases(ctx context.Context, status string) ([]Case, error) {
	endpoint := "cases"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Case
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Decide approves or declines a submitted case.
func (c *Client) Decide(ctx context.Context, caseID, decision, comment string) (Case, error) {
	body := map[string]any{"decision": decision}
	if comment != "" {
		body["comment"] = comment
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("cases/%s/decision", url.PathEscape(caseID)), body, &resp)
	return resp, err
}

// StartMissionOrder returns the case's open mission order, drafting one if needed.
func (c *Client) StartMissionOrder(ctx context.Context, caseID, title string) (MissionOrder, error) {
	var resp MissionOrder
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("cases/%s/mission-orders", url.PathEscape(caseID)), map[string]any{"title": title}, &resp)
	return resp, err
}

// GetMissionOrder fetches a mission order.
func (c *Client) GetMissionOrder(ctx context.Context, id string) (MissionOrder, error) {
	var resp MissionOrder
	err := c.do(ctx, http.MethodGet, c.moPath(id, ""), nil, &resp)
	return resp, err
}

// EditMissionOrder applies body edits and, when title is not nil, renames the order.
func (c *Client) EditMissionOrder(ctx context.Context, id string, edits []Edit, title *string) (MissionOrder, error) {
	body := map[string]any{"edits": edits}
	if title != nil {
		body["title"] = *title
	}
	var resp MissionOrder
	err := c.do(ctx, http.MethodPatch, c.moPath(id, "body"), body, &resp)
	return resp, err
}

// Assign puts an inspector on a mission order.
func (c *Client) Assign(ctx context.Context, moID, inspectorID string) (MissionOrder, error) {
	var resp MissionOrder
	err := c.do(ctx, http.MethodPut, c.moPath(moID, "inspectors/"+url.PathEscape(inspectorID)), nil, &resp)
	return resp, err
}

// Unassign removes an inspector from a mission order.
func (c *Client) Unassign(ctx context.Context, moID, inspectorID string) (MissionOrder, error) {
	var resp MissionOrder
	err := c.do(ctx, http.MethodDelete, c.moPath(moID, "inspectors/"+url.PathEscape(inspectorID)), nil, &resp)
	return resp, err
}

// Submit issues a staffed draft.
func (c *Client) Submit(ctx context.Context, moID string) (MissionOrder, error) {
	var resp MissionOrder
	err := c.do(ctx, http.MethodPost, c.moPath(moID, "submit"), nil, &resp)
	return resp, err
}

// Approve moves an issued order to for inspection.
func (c *Client) Approve(ctx context.Context, moID string) (MissionOrder, error) {
	var resp MissionOrder
	err := c.do(ctx, http.MethodPost, c.moPath(moID, "approve"), nil, &resp)
	return resp, err
}

// Reject cancels an issued order.
func (c *Client) Reject(ctx context.Context, moID, comment string) (MissionOrder, error) {
	var resp MissionOrder
	err := c.do(ctx, http.MethodPost, c.moPath(moID, "reject"), map[string]any{"comment": comment}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Watch streams change notifications for entityKind/entityID (either may be
// empty) until ctx is done. The channel is closed when the stream ends.
func (c *Client) Watch(ctx context.Context, entityKind, entityID string) (<-chan Change, error) {
	u, err := url.Parse(c.base() + c.path("ws"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := url.Values{}
	if entityKind != "" {
		q.Set("entity_kind", entityKind)
	}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	u.RawQuery = q.Encode()
	header := http.Header{}
	switch {
	case c.BearerToken != "":
		header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		header.Set("X-Api-Key", c.APIKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, decodeAPIError(resp)
		}
		return nil, err
	}
	out := make(chan Change)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var ch Change
			if err := conn.ReadJSON(&ch); err != nil {
				return
			}
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + c.path(endpoint)
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) moPath(id, rest string) string {
	p := "mission-orders/" + url.PathEscape(id)
	if rest != "" {
		p += "/" + rest
	}
	return p
}

func (c *Client) path(endpoint string) string {
	basePath := "/" + strings.Trim(c.BasePath, "/")
	if basePath == "/" {
		basePath = ""
	}
	return basePath + "/" + strings.TrimLeft(endpoint, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
