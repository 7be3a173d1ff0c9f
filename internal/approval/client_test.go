package approval_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawnet-hq/accessd/internal/approval"
)

func TestHTTPCheckClientParsesApproval(t *testing.T) {
	expiry := time.Now().Add(time.Hour).UnixMilli()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/access/check", r.URL.Path)
		assert.Equal(t, "playlist", r.URL.Query().Get("feature"))
		assert.Equal(t, "p1", r.URL.Query().Get("id"))
		assert.Equal(t, "a@x.com", r.URL.Query().Get("email"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"approved":true,"expireAt":%d}`, expiry)
	}))
	defer srv.Close()

	client := approval.NewHTTPCheckClient(srv.URL)
	res, err := client.CheckAccess(context.Background(), approval.CheckQuery{
		Feature: "playlist", FeatureID: "p1", Email: "a@x.com",
	})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, expiry, res.ExpiresAt.UnixMilli())
}

func TestHTTPCheckClientRejectsHTMLBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>504 Gateway Time-out</body></html>")
	}))
	defer srv.Close()

	client := approval.NewHTTPCheckClient(srv.URL)
	_, err := client.CheckAccess(context.Background(), approval.CheckQuery{
		Feature: "playlist", FeatureID: "p1", Email: "a@x.com",
	})
	assert.True(t, errors.Is(err, approval.ErrInvalidPayload), "got %v", err)
}

func TestHTTPCheckClientRejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := approval.NewHTTPCheckClient(srv.URL)
	_, err := client.CheckAccess(context.Background(), approval.CheckQuery{
		Feature: "playlist", FeatureID: "p1", Email: "a@x.com",
	})
	assert.True(t, errors.Is(err, approval.ErrInvalidPayload), "got %v", err)
}

func TestHTTPCheckClientErrorsOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := approval.NewHTTPCheckClient(srv.URL)
	_, err := client.CheckAccess(context.Background(), approval.CheckQuery{
		Feature: "playlist", FeatureID: "p1", Email: "a@x.com",
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, approval.ErrInvalidPayload))
}
