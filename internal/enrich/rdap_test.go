package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRDAPDomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domain/fresh.example", r.URL.Path)
		assert.Equal(t, "application/rdap+json", r.Header.Get("Accept"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ldhName": "FRESH.EXAMPLE",
			"handle":  "D123",
			"status":  []string{"active"},
			"events": []map[string]string{
				{"eventAction": "registration", "eventDate": "2026-08-20T00:00:00Z"},
				{"eventAction": "last changed", "eventDate": "2026-08-21T00:00:00Z"},
			},
		})
	}))
	defer srv.Close()

	c := NewRDAPClient(srv.URL)
	c.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }

	doc := c.Domain(context.Background(), "fresh.example")

	assert.Equal(t, true, doc["ok"])
	assert.Equal(t, "FRESH.EXAMPLE", doc["ldhName"])
	assert.Equal(t, "D123", doc["handle"])
	assert.Equal(t, 4, doc["domain_age_days"])
	assert.Equal(t, "2026-08-20T00:00:00Z", doc["registration_date"])

	age, ok := DomainAgeDays(doc)
	require.True(t, ok)
	assert.Equal(t, 4, age)
}

func TestRDAPDomainHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	doc := NewRDAPClient(srv.URL).Domain(context.Background(), "missing.example")

	assert.Equal(t, false, doc["ok"])
	assert.Equal(t, http.StatusNotFound, doc["status_code"])
	assert.Equal(t, "HTTP 404", doc["error"])

	_, ok := DomainAgeDays(doc)
	assert.False(t, ok)
}

func TestRDAPDomainUnreachable(t *testing.T) {
	c := NewRDAPClient("http://127.0.0.1:1")
	doc := c.Domain(context.Background(), "any.example")

	assert.Equal(t, false, doc["ok"])
	assert.NotEmpty(t, doc["error"])
}

func TestRDAPEventsTruncated(t *testing.T) {
	events := make([]map[string]string, 12)
	for i := range events {
		events[i] = map[string]string{"eventAction": "last changed", "eventDate": "2020-01-01T00:00:00Z"}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"ldhName": "busy.example", "events": events})
	}))
	defer srv.Close()

	doc := NewRDAPClient(srv.URL).Domain(context.Background(), "busy.example")

	assert.Equal(t, true, doc["ok"])
	assert.Len(t, doc["events"], 10)
	assert.Nil(t, doc["domain_age_days"], "no registration event means no age")
}

func TestDomainAgeDaysFloat(t *testing.T) {
	// Documents round-tripped through JSONB come back with float64 numbers.
	age, ok := DomainAgeDays(map[string]interface{}{"domain_age_days": float64(3)})
	assert.True(t, ok)
	assert.Equal(t, 3, age)
}
