package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-gateway/internal/apikey"
	"admission-gateway/internal/common/errors"
)

func TestDispatcher_Forward_PassThrough(t *testing.T) {
	var gotPath, gotQuery, gotMethod string
	var gotBody []byte

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("X-Upstream-Marker", "present")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer upstream.Close()

	d := NewDispatcher(DefaultConfig(), nil)

	r := httptest.NewRequest("POST", "/v1/completions?model=small", strings.NewReader(`{"prompt":"hi"}`))
	w := httptest.NewRecorder()

	status, err := d.Forward(w, r, upstream.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	assert.Equal(t, "/v1/completions", gotPath)
	assert.Equal(t, "model=small", gotQuery)
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, `{"prompt":"hi"}`, string(gotBody))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"result":"ok"}`, w.Body.String())
	assert.Equal(t, "present", w.Header().Get("X-Upstream-Marker"))
}

func TestDispatcher_Forward_StripsAuthAndHopByHop(t *testing.T) {
	var gotHeaders http.Header

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
	}))
	defer upstream.Close()

	d := NewDispatcher(DefaultConfig(), nil)

	r := httptest.NewRequest("GET", "/v1/models", nil)
	r.Header.Set(apikey.Header, "sk-secret-0123456789abcdef")
	r.Header.Set("Proxy-Authorization", "Basic abc")
	r.Header.Set("Keep-Alive", "timeout=5")
	r.Header.Set("X-Request-ID", "req-42")
	r.Header.Set("Accept", "application/json")

	_, err := d.Forward(httptest.NewRecorder(), r, upstream.URL)
	require.NoError(t, err)

	// The gateway's auth header and hop-by-hop headers never reach upstream.
	assert.Empty(t, gotHeaders.Get(apikey.Header))
	assert.Empty(t, gotHeaders.Get("Proxy-Authorization"))
	assert.Empty(t, gotHeaders.Get("Keep-Alive"))

	// End-to-end headers do.
	assert.Equal(t, "req-42", gotHeaders.Get("X-Request-ID"))
	assert.Equal(t, "application/json", gotHeaders.Get("Accept"))
}

func TestDispatcher_Forward_BasePathJoin(t *testing.T) {
	var gotPath string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer upstream.Close()

	d := NewDispatcher(DefaultConfig(), nil)

	r := httptest.NewRequest("GET", "/v1/models", nil)
	_, err := d.Forward(httptest.NewRecorder(), r, upstream.URL+"/tenant-a/")
	require.NoError(t, err)

	assert.Equal(t, "/tenant-a/v1/models", gotPath)
}

func TestDispatcher_Forward_UpstreamUnreachable(t *testing.T) {
	d := NewDispatcher(DefaultConfig(), nil)

	r := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()

	// Reserved TEST-NET address, nothing listens there.
	status, err := d.Forward(w, r, "http://127.0.0.1:1")

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestDispatcher_Forward_UpstreamTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer upstream.Close()

	d := NewDispatcher(Config{Timeout: 50 * time.Millisecond}, nil)

	r := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()

	status, err := d.Forward(w, r, upstream.URL)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestDispatcher_Forward_RedirectNotFollowed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://example.invalid/elsewhere", http.StatusFound)
	}))
	defer upstream.Close()

	d := NewDispatcher(DefaultConfig(), nil)

	r := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()

	status, err := d.Forward(w, r, upstream.URL)
	require.NoError(t, err)

	// The redirect is relayed to the client untouched.
	assert.Equal(t, http.StatusFound, status)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://example.invalid/elsewhere", w.Header().Get("Location"))
}

func TestDispatcher_Forward_InvalidUpstreamURL(t *testing.T) {
	d := NewDispatcher(DefaultConfig(), nil)

	r := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()

	status, err := d.Forward(w, r, "http://bad host/")

	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestBuildTargetURL(t *testing.T) {
	cases := []struct {
		name    string
		base    string
		reqPath string
		query   string
		want    string
	}{
		{"plain base", "http://up:8080", "/v1/x", "", "http://up:8080/v1/x"},
		{"base with path", "http://up:8080/api", "/v1/x", "", "http://up:8080/api/v1/x"},
		{"base trailing slash", "http://up:8080/api/", "/v1/x", "", "http://up:8080/api/v1/x"},
		{"query forwarded", "http://up:8080", "/v1/x", "a=1&b=2", "http://up:8080/v1/x?a=1&b=2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tc.reqPath+"?"+tc.query, nil)
			got, err := buildTargetURL(tc.base, r.URL)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
