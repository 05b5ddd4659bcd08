package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "18.520430", r.URL.Query().Get("lat"))
		assert.Equal(t, "73.856744", r.URL.Query().Get("lon"))
		assert.Equal(t, "listing-wizard-test", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"display_name":"Shivajinagar, Pune","address":{"city":"Pune","state":"Maharashtra","postcode":"411005","country_code":"in"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "listing-wizard-test", time.Second, zaptest.NewLogger(t))

	place, err := c.Reverse(context.Background(), 18.52043, 73.856744)
	require.NoError(t, err)
	assert.Equal(t, "Pune", place.Locality())
	assert.Equal(t, "411005", place.Address.Postcode)
	assert.Equal(t, "Shivajinagar, Pune", place.DisplayName)
}

func TestReverse_NoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "ua", time.Second, zaptest.NewLogger(t))

	_, err := c.Reverse(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestReverse_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "ua", time.Second, zaptest.NewLogger(t))

	_, err := c.Reverse(context.Background(), 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestPlaceLocality(t *testing.T) {
	assert.Equal(t, "Lonavala", Place{Address: Address{Town: "Lonavala"}}.Locality())
	assert.Equal(t, "Pune district", Place{Address: Address{District: "Pune district"}}.Locality())
	assert.Empty(t, Place{}.Locality())
}
