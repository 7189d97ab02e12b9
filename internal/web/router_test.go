// ABOUTME: Tests for the ordered path router and template compilation.
// ABOUTME: Covers placeholder capture, registration-order wins, and 404 fallback.

package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_ParameterExtraction(t *testing.T) {
	router := NewRouter()

	var got map[string]string
	router.Handle("GET", "/settings/:token", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		got = params
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/settings/abc123", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"token": "abc123"}, got)
}

func TestRouter_MultiplePlaceholders(t *testing.T) {
	router := NewRouter()

	var got map[string]string
	router.Handle("GET", "/calendars/:user/events/:id", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		got = params
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/calendars/alice/events/42", nil))

	assert.Equal(t, map[string]string{"user": "alice", "id": "42"}, got)
}

func TestRouter_RegistrationOrderWins(t *testing.T) {
	router := NewRouter()

	var hit string
	router.Handle("GET", "/users/:id", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		hit = "parameterized:" + params["id"]
	})
	router.Handle("GET", "/users/admin", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		hit = "literal"
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/users/admin", nil))

	// The parameterized route was registered first, so it shadows the
	// literal one even for the exact path.
	assert.Equal(t, "parameterized:admin", hit)
}

func TestRouter_EmptyRouteListIs404(t *testing.T) {
	router := NewRouter()

	for _, tc := range []struct {
		method string
		path   string
	}{
		{"GET", "/"},
		{"POST", "/settings/abc123"},
		{"DELETE", "/anything/at/all"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))

			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, "404 not found\n", w.Body.String())
		})
	}
}

func TestRouter_MethodMatchIsCaseInsensitive(t *testing.T) {
	route := NewRoute("get", "/health", func(w http.ResponseWriter, r *http.Request, params map[string]string) {})

	_, ok := route.Match(httptest.NewRequest("GET", "/health", nil))
	assert.True(t, ok)
}

func TestRouter_MethodMismatchFallsThrough(t *testing.T) {
	router := NewRouter()

	router.Handle("POST", "/settings/:token", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		t.Error("POST handler should not run for GET")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/settings/abc123", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_PlaceholderDoesNotSpanSlashes(t *testing.T) {
	router := NewRouter()

	router.Handle("GET", "/settings/:token", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		t.Errorf("route matched nested path with params %v", params)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/settings/abc/extra", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_LiteralSpecialCharactersAreEscaped(t *testing.T) {
	router := NewRouter()

	var matched bool
	router.Handle("GET", "/v1.0/status", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		matched = true
	})

	// The dot in the template is a literal, not a wildcard.
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1X0/status", nil))
	assert.False(t, matched)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1.0/status", nil))
	assert.True(t, matched)
}

func TestRouter_FirstOfSeveralMatchesDispatches(t *testing.T) {
	router := NewRouter()

	var hits []string
	for _, name := range []string{"first", "second", "third"} {
		router.Handle("GET", "/overlap/:x", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			hits = append(hits, name)
		})
	}

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/overlap/anything", nil))

	require.Len(t, hits, 1, "exactly one handler must run")
	assert.Equal(t, "first", hits[0])
}

func TestRouter_CustomNotFound(t *testing.T) {
	router := NewRouter()
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/nope", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestRouter_EmptySegmentStillMatches(t *testing.T) {
	router := NewRouter()

	var got map[string]string
	router.Handle("GET", "/settings/:token", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		got = params
	})

	// A placeholder may capture the empty string; handlers validate values.
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/settings/", nil))
	assert.Equal(t, map[string]string{"token": ""}, got)
}
