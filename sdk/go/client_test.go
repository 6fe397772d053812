package inspectlinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideSendsDecisionAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/cases/c-1/decision", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "approved", body["decision"])
		assert.NotContains(t, body, "comment")
		_ = json.NewEncoder(w).Encode(Case{ID: "c-1", Status: "approved"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	got, err := c.Decide(context.Background(), "c-1", "approved", "")
	require.NoError(t, err)
	assert.Equal(t, "approved", got.Status)
}

func TestAPIErrorDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"missing_rationale","message":"comment is required","details":{"field":"comment"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "il_key"
	_, err := c.Reject(context.Background(), "mo-1", "")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "missing_rationale", apiErr.Code)
	assert.Equal(t, "comment", apiErr.Details["field"])
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/events", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "42", r.URL.Query().Get("cursor"))
		_ = json.NewEncoder(w).Encode(PaginatedEvents{Items: []Event{{ID: 41}}, NextCursor: "41"})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BasePath = "api"
	page, err := c.EventsPage(context.Background(), 5, "42")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "41", page.NextCursor)
}
