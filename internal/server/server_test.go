package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/events"
	"inspectline/internal/geofence"
	"inspectline/internal/migrate"
	"inspectline/internal/notify"
	"inspectline/internal/storage"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	engine engine.Engine
}

func newTestServer(t *testing.T, devLogin bool) *testServer {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err)
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))

	e := engine.New(conn, config.Default("office-1"))
	e.Store = storage.Local{Dir: workspace + "/evidence"}
	ctx := context.Background()
	for _, p := range []domain.ActorProfile{
		{ID: "d1", Role: domain.RoleDirector, DisplayName: "Dir One"},
		{ID: "h1", Role: domain.RoleHeadInspector, DisplayName: "Head"},
		{ID: "i1", Role: domain.RoleInspector, DisplayName: "Ana Reyes"},
		{ID: "r1", Role: domain.RoleReporter, DisplayName: "Reporter"},
		{ID: "a1", Role: domain.RoleAdmin, DisplayName: "Admin"},
	} {
		p.CreatedAt = "2024-01-01T00:00:00Z"
		_, err := e.Repo.UpsertActor(ctx, p)
		require.NoError(t, err)
	}
	lat, lng := 14.5995, 120.9842
	require.NoError(t, e.Repo.InsertBusiness(ctx, domain.Business{
		ID: "b1", Name: "Corner Bakery", Address: "12 Main St", Lat: &lat, Lng: &lng,
	}))

	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret, DevLogin: devLogin}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{Server: srv, engine: e}
}

func token(t *testing.T, actorID string, role domain.Role) map[string]string {
	t.Helper()
	tok, err := SignToken(testSecret, actorID, role, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func (s *testServer) fileComplaint(t *testing.T) domain.Case {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, s.URL+"/v1/complaints", map[string]any{
		"business_id": "b1",
		"description": "Expired goods on display",
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var c domain.Case
	require.NoError(t, json.Unmarshal(data, &c))
	return c
}

func TestHealthAndOpenAPI(t *testing.T) {
	srv := newTestServer(t, false)

	res, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "bearerAuth")
	assert.Contains(t, string(data), "/v1/mission-orders/{mo_id}/approve")
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, false)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v1/cases", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/cases", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)
}

func TestReporterCannotListCases(t *testing.T) {
	srv := newTestServer(t, false)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v1/cases", nil, token(t, "r1", domain.RoleReporter))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	body := decodeError(t, data)
	assert.Equal(t, "forbidden", body.Code)
	assert.Equal(t, "case.read", body.Details["permission"])
}

func TestCaseDecisionOverHTTP(t *testing.T) {
	srv := newTestServer(t, false)
	c := srv.fileComplaint(t)
	assert.Equal(t, domain.CaseSubmitted, c.Status)
	director := token(t, "d1", domain.RoleDirector)
	decide := srv.URL + "/v1/cases/" + c.ID + "/decision"

	res, data := doJSON(t, http.MethodPost, decide, map[string]any{"decision": "declined"}, director)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	body := decodeError(t, data)
	assert.Equal(t, "missing_rationale", body.Code)
	assert.Equal(t, "comment", body.Details["field"])

	res, data = doJSON(t, http.MethodPost, decide, map[string]any{"decision": "approved"}, director)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var approved domain.Case
	require.NoError(t, json.Unmarshal(data, &approved))
	assert.Equal(t, domain.CaseApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "d1", *approved.ApprovedBy)

	res, data = doJSON(t, http.MethodPost, decide, map[string]any{"decision": "declined", "comment": "late"}, director)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "invalid_transition", decodeError(t, data).Code)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/cases/missing", nil, director)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestMissionOrderFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t, false)
	c := srv.fileComplaint(t)
	director := token(t, "d1", domain.RoleDirector)
	head := token(t, "h1", domain.RoleHeadInspector)
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v1/cases/"+c.ID+"/decision", map[string]any{"decision": "approved"}, director)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v1/cases/"+c.ID+"/mission-orders", map[string]any{}, head)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var mo MissionOrderResponse
	require.NoError(t, json.Unmarshal(data, &mo))
	assert.Equal(t, domain.MissionOrderDraft, mo.Status)
	assert.Contains(t, mo.Text, "Business Name: Corner Bakery")
	moURL := srv.URL + "/v1/mission-orders/" + mo.ID

	res, data = doJSON(t, http.MethodPost, moURL+"/submit", nil, head)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, "no_inspectors_assigned", decodeError(t, data).Code)

	res, data = doJSON(t, http.MethodPut, moURL+"/inspectors/i1", nil, head)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &mo))
	assert.Contains(t, mo.Text, "Inspector(s): Ana Reyes\n")
	require.NotEmpty(t, mo.Spans)

	var locked int
	for _, sp := range mo.Spans {
		if sp.Field == "inspectors" {
			locked = sp.Start
		}
	}
	res, data = doJSON(t, http.MethodPatch, moURL+"/body", map[string]any{
		"edits": []map[string]any{{"offset": locked + 1, "length": 1, "text": "X"}},
	}, head)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "locked_field", decodeError(t, data).Code)

	res, data = doJSON(t, http.MethodPost, moURL+"/submit", nil, head)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodPost, moURL+"/approve", nil, head)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodPost, moURL+"/approve", nil, director)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &mo))
	assert.Equal(t, domain.MissionOrderForInspection, mo.Status)

	res, data = doJSON(t, http.MethodDelete, moURL+"/inspectors/i1", nil, head)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "mission_order_locked", decodeError(t, data).Code)

	inspector := token(t, "i1", domain.RoleInspector)
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/inspectors/i1/mission-orders", nil, inspector)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var mine []MissionOrderResponse
	require.NoError(t, json.Unmarshal(data, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, mo.ID, mine[0].ID)

	res, data = doJSON(t, http.MethodGet, moURL+"/export", nil, inspector)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.True(t, strings.HasPrefix(res.Header.Get("Content-Type"), "text/html"))
	assert.Contains(t, string(data), `data-field="inspectors"`)
}

func TestRejectWithoutCommentIsMissingRationale(t *testing.T) {
	srv := newTestServer(t, false)
	c := srv.fileComplaint(t)
	director := token(t, "d1", domain.RoleDirector)
	head := token(t, "h1", domain.RoleHeadInspector)
	doJSON(t, http.MethodPost, srv.URL+"/v1/cases/"+c.ID+"/decision", map[string]any{"decision": "approved"}, director)
	_, data := doJSON(t, http.MethodPost, srv.URL+"/v1/cases/"+c.ID+"/mission-orders", map[string]any{}, head)
	var mo MissionOrderResponse
	require.NoError(t, json.Unmarshal(data, &mo))
	doJSON(t, http.MethodPut, srv.URL+"/v1/mission-orders/"+mo.ID+"/inspectors/i1", nil, head)
	doJSON(t, http.MethodPost, srv.URL+"/v1/mission-orders/"+mo.ID+"/submit", nil, head)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v1/mission-orders/"+mo.ID+"/reject", map[string]any{}, director)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "missing_rationale", decodeError(t, data).Code)

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v1/mission-orders/"+mo.ID+"/reject", map[string]any{"comment": "wrong address"}, director)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &mo))
	assert.Equal(t, domain.MissionOrderCancelled, mo.Status)
}

func TestPublicIntakeCameraFirst(t *testing.T) {
	srv := newTestServer(t, false)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v1/intake", map[string]any{
		"business_id":  "b1",
		"reporter_lat": 14.5996,
		"reporter_lng": 120.9843,
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var view IntakeResponse
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, geofence.TagLocationVerified, view.Tag)
	intakeURL := srv.URL + "/v1/intake/" + view.Session.ID

	res, data = doJSON(t, http.MethodPost, intakeURL+"/evidence", map[string]any{
		"source": "upload",
		"uri":    "https://example.test/photo.jpg",
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	body := decodeError(t, data)
	assert.Equal(t, "camera_required", body.Code)
	assert.Equal(t, "source", body.Details["field"])

	res, data = doJSON(t, http.MethodPost, intakeURL+"/evidence", map[string]any{
		"source":  "camera",
		"name":    "front.jpg",
		"content": []byte("jpeg bytes"),
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodPost, intakeURL+"/evidence", map[string]any{
		"source": "upload",
		"uri":    "https://example.test/photo.jpg",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &view))
	require.Len(t, view.Evidence, 2)
	assert.Equal(t, "camera", view.Evidence[0].Source)

	res, data = doJSON(t, http.MethodPost, intakeURL+"/submit", map[string]any{"description": "Rats"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodPost, intakeURL+"/submit", map[string]any{}, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "intake_closed", decodeError(t, data).Code)
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv := newTestServer(t, false)
	admin := token(t, "a1", domain.RoleAdmin)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v1/api-keys", map[string]any{"actor_id": "d1", "name": "reports"}, admin)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var key APIKeyResponse
	require.NoError(t, json.Unmarshal(data, &key))
	require.NotEmpty(t, key.Secret)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": key.Secret})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "d1", me.ActorID)
	assert.Equal(t, "director", me.Role)
	assert.Equal(t, "api_key", me.Source)
	assert.Contains(t, me.Permissions, "case.decide")

	res, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/api-keys/"+key.Key.ID, nil, admin)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": key.Secret})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestDevLogin(t *testing.T) {
	srv := newTestServer(t, true)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "h1"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "head_inspector", me.Role)
	assert.Equal(t, "Head", me.DisplayName)

	disabled := newTestServer(t, false)
	res, _ = doJSON(t, http.MethodPost, disabled.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "h1"}, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDashboardAndEvents(t *testing.T) {
	srv := newTestServer(t, false)
	srv.fileComplaint(t)
	srv.fileComplaint(t)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v1/me/dashboard", nil, token(t, "d1", domain.RoleDirector))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var dash DashboardResponse
	require.NoError(t, json.Unmarshal(data, &dash))
	assert.Equal(t, ViewCases, dash.View)
	assert.Equal(t, "submitted", dash.Status)
	assert.Len(t, dash.Cases, 2)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/me/dashboard?view=events", nil, token(t, "h1", domain.RoleHeadInspector))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	admin := token(t, "a1", domain.RoleAdmin)
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/events?limit=1&entity_kind=case", nil, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	require.NotEmpty(t, page.NextCursor)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v1/events?limit=1&entity_kind=case&cursor="+page.NextCursor, nil, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var next paginatedEvents
	require.NoError(t, json.Unmarshal(data, &next))
	require.Len(t, next.Items, 1)
	assert.Less(t, next.Items[0].ID, page.Items[0].ID)
}

func TestResolveView(t *testing.T) {
	cases := []struct {
		name     string
		role     domain.Role
		query    string
		view     string
		caseStat string
		moStat   string
		wantErr  bool
	}{
		{name: "director default", role: domain.RoleDirector, view: ViewCases, caseStat: "submitted"},
		{name: "director orders", role: domain.RoleDirector, query: "view=mission-orders", view: ViewMissionOrders, moStat: "issued"},
		{name: "head default", role: domain.RoleHeadInspector, view: ViewCases, caseStat: "approved"},
		{name: "head drafts", role: domain.RoleHeadInspector, query: "view=mission_orders", view: ViewMissionOrders, moStat: "draft"},
		{name: "explicit status", role: domain.RoleDirector, query: "status=declined", view: ViewCases, caseStat: "declined"},
		{name: "all statuses", role: domain.RoleDirector, query: "status=all", view: ViewCases},
		{name: "inspector", role: domain.RoleInspector, view: ViewInspections, moStat: "for inspection"},
		{name: "reporter", role: domain.RoleReporter, view: ViewIntake},
		{name: "inspector cannot see cases", role: domain.RoleInspector, query: "view=cases", wantErr: true},
		{name: "bad status", role: domain.RoleDirector, query: "status=bogus", wantErr: true},
		{name: "unknown role", role: domain.Role("guest"), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := url.ParseQuery(tc.query)
			require.NoError(t, err)
			v, err := ResolveView(tc.role, q)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.view, v.Name)
			if tc.caseStat == "" {
				assert.Nil(t, v.CaseStatus)
			} else {
				require.NotNil(t, v.CaseStatus)
				assert.Equal(t, tc.caseStat, string(*v.CaseStatus))
			}
			if tc.moStat == "" {
				assert.Nil(t, v.MissionOrderStatus)
			} else {
				require.NotNil(t, v.MissionOrderStatus)
				assert.Equal(t, tc.moStat, string(*v.MissionOrderStatus))
			}
		})
	}
}

func TestFeedScopesInspectorToAssignedOrders(t *testing.T) {
	srv := newTestServer(t, false)
	ctx := context.Background()

	dial := func(actorID string, role domain.Role) *websocket.Conn {
		tok, err := SignToken(testSecret, actorID, role, time.Hour)
		require.NoError(t, err)
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?access_token=" + url.QueryEscape(tok)
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	next := func(conn *websocket.Conn) notify.Change {
		var c notify.Change
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&c))
		return c
	}
	dirFeed := dial("d1", domain.RoleDirector)
	inspFeed := dial("i1", domain.RoleInspector)

	c := srv.fileComplaint(t)
	got := next(dirFeed)
	assert.Equal(t, "case", got.EntityKind)
	assert.Equal(t, c.ID, got.EntityID)

	director := domain.Actor{ID: "d1", Role: domain.RoleDirector}
	head := domain.Actor{ID: "h1", Role: domain.RoleHeadInspector}
	_, err := srv.engine.Decide(ctx, c.ID, domain.CaseApproved, director, "")
	require.NoError(t, err)
	mo, err := srv.engine.StartMissionOrder(ctx, c.ID, head, "")
	require.NoError(t, err)
	_, err = srv.engine.Assign(ctx, mo.ID, "i1", head)
	require.NoError(t, err)
	_, err = srv.engine.Submit(ctx, mo.ID, head)
	require.NoError(t, err)
	_, err = srv.engine.Approve(ctx, mo.ID, director)
	require.NoError(t, err)

	// case changes and the order's Draft/Issued steps are withheld
	got = next(inspFeed)
	assert.Equal(t, "mission_order", got.EntityKind)
	assert.Equal(t, mo.ID, got.EntityID)
	assert.Equal(t, events.MissionOrderApproved, got.Type)
}
