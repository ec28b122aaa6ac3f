package web_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/docustitch/internal/db"
	"github.com/vbonduro/docustitch/internal/domain"
	"github.com/vbonduro/docustitch/internal/generator"
	"github.com/vbonduro/docustitch/internal/imagestore"
	"github.com/vbonduro/docustitch/internal/metrics"
	"github.com/vbonduro/docustitch/internal/service"
	"github.com/vbonduro/docustitch/internal/store"
	"github.com/vbonduro/docustitch/internal/web"
	"github.com/vbonduro/docustitch/internal/web/templates"
)

// minimalPNG carries the PNG signature, which is all http.DetectContentType needs.
var minimalPNG = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

// stubGenerator returns a fixed result, optionally blocking until released.
type stubGenerator struct {
	mu      sync.Mutex
	calls   int
	result  *domain.GeneratedResult
	err     error
	release chan struct{}
}

func (g *stubGenerator) Generate(_ context.Context, _ domain.GenerationRequest) (*domain.GeneratedResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.release != nil {
		<-g.release
	}
	return g.result, g.err
}

// memImageStore is a simple in-memory implementation of imagestore.ImageStore.
type memImageStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	counter int
}

func newMemImageStore() *memImageStore {
	return &memImageStore{data: make(map[string][]byte)}
}

func (m *memImageStore) Save(_ context.Context, prefix, mimeType string, r io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	key := fmt.Sprintf("%s_%d%s", prefix, m.counter, imagestore.KeyExt(mimeType))
	m.data[key] = data
	return key, nil
}

func (m *memImageStore) Get(_ context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, "", imagestore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), imagestore.MIMEFromKey(key), nil
}

func (m *memImageStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return imagestore.ErrNotFound
	}
	delete(m.data, key)
	return nil
}

type testServer struct {
	*httptest.Server
	client *http.Client
	svc    *service.SessionService
	gen    *stubGenerator
}

// newTestServer sets up a real web.Server backed by in-memory SQLite and a
// stub generator. The returned client keeps the session cookie.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database, err := db.OpenForTesting()
	require.NoError(t, err)

	gen := &stubGenerator{result: &domain.GeneratedResult{
		Script:       "print(1)",
		Instructions: "Paste into Colab and run.",
		Explanation:  "Crawls the sidebar and merges pages.",
	}}
	svc := service.NewSessionService(store.NewSessionStore(database), gen, newMemImageStore(), 0, slog.Default())
	handler, err := web.NewServer(svc, templates.FS, slog.Default())
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		srv.Close()
		assert.NoError(t, svc.Wait(context.Background()))
		_ = database.Close()
	})
	return &testServer{Server: srv, client: &http.Client{Jar: jar}, svc: svc, gen: gen}
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func (ts *testServer) upload(t *testing.T, data []byte) (*http.Response, string) {
	t.Helper()
	body, contentType := buildMultipartBody(t, data)
	return ts.do(t, http.MethodPost, "/screenshot", body, contentType)
}

func (ts *testServer) form(t *testing.T, method, path string, values url.Values) (*http.Response, string) {
	t.Helper()
	return ts.do(t, method, path, strings.NewReader(values.Encode()), "application/x-www-form-urlencoded")
}

// buildMultipartBody creates a multipart/form-data body with an "image" field.
func buildMultipartBody(t *testing.T, imageData []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("image", "docs.png")
	require.NoError(t, err)
	_, err = fw.Write(imageData)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestIntegration_IndexSetsSessionCookie(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "docustitch_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	assert.Contains(t, string(body), "Generate Colab script")
	assert.Contains(t, string(body), "disabled", "submit starts disabled")
}

func TestIntegration_UnknownRouteIs404(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegration_UploadRejectsNonImage(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.upload(t, []byte("%PDF-1.4 not a screenshot"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Please choose a PNG, JPEG, GIF or WebP image.")
}

func TestIntegration_UploadRejectsOversizedDimensions(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	data := buf.Bytes()
	binary.BigEndian.PutUint32(data[16:20], 60000)
	binary.BigEndian.PutUint32(data[20:24], 60000)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))

	resp, body := ts.upload(t, data)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "dimensions are too large")

	resp, _ = ts.do(t, http.MethodGet, "/screenshot", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegration_UploadTooLarge(t *testing.T) {
	ts := newTestServer(t)

	big := append(append([]byte{}, minimalPNG...), make([]byte, 20<<20)...)
	resp, _ := ts.upload(t, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestIntegration_PreviewAndClear(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.upload(t, minimalPNG)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, "Screenshot preview")
	assert.Contains(t, body, `hx-swap-oob="true"`)

	resp, body = ts.do(t, http.MethodGet, "/screenshot", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, string(minimalPNG), body)

	resp, body = ts.do(t, http.MethodDelete, "/screenshot", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `type="file"`)

	resp, _ = ts.do(t, http.MethodGet, "/screenshot", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegration_FormEnablesSubmit(t *testing.T) {
	ts := newTestServer(t)

	_, body := ts.form(t, http.MethodPut, "/form", url.Values{"url": {"https://docs.example.com"}})
	assert.Contains(t, body, "disabled", "no screenshot yet")

	ts.upload(t, minimalPNG)
	resp, body := ts.form(t, http.MethodPut, "/form", url.Values{"url": {"https://docs.example.com"}, "notes": {"n"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "disabled")
}

func TestIntegration_FormRejectsLongURL(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.form(t, http.MethodPut, "/form", url.Values{"url": {strings.Repeat("a", 3000)}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntegration_GenerateIncomplete(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.form(t, http.MethodPost, "/generate", url.Values{"url": {"https://docs.example.com"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, ts.gen.calls)
}

func TestIntegration_GenerateFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.gen.release = make(chan struct{})

	ts.upload(t, minimalPNG)
	resp, body := ts.form(t, http.MethodPost, "/generate", url.Values{
		"url":   {"https://docs.example.com"},
		"notes": {"skip the blog"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, "Analyzing page structure...")
	assert.Contains(t, body, `hx-trigger="every 1s"`)

	// A second submit while the first is running is refused.
	resp, _ = ts.form(t, http.MethodPost, "/generate", url.Values{"url": {"https://docs.example.com"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(ts.gen.release)
	require.NoError(t, ts.svc.Wait(context.Background()))

	resp, body = ts.do(t, http.MethodGet, "/status", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "generation-completed", resp.Header.Get("HX-Trigger"))
	assert.Contains(t, body, "colab_script.py")
	assert.Contains(t, body, "print(1)")
	assert.Contains(t, body, "Paste into Colab and run.")
	assert.Contains(t, body, "https://colab.research.google.com/#create=true")
	assert.NotContains(t, body, `hx-trigger="every 1s"`)
	assert.Equal(t, 1, ts.gen.calls)

	// The full page shows the same result after a reload.
	_, body = ts.do(t, http.MethodGet, "/", nil, "")
	assert.Contains(t, body, "print(1)")
	assert.Contains(t, body, "skip the blog")
}

func TestIntegration_GenerateFailureShowsGenericMessage(t *testing.T) {
	ts := newTestServer(t)
	ts.gen.result = nil
	ts.gen.err = generator.NewError(generator.KindNetwork, fmt.Errorf("dial tcp: connection refused"))

	ts.upload(t, minimalPNG)
	resp, _ := ts.form(t, http.MethodPost, "/generate", url.Values{"url": {"https://docs.example.com"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, ts.svc.Wait(context.Background()))

	resp, body := ts.do(t, http.MethodGet, "/status", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("HX-Trigger"))
	assert.Contains(t, body, generator.FailureMessage)
	assert.NotContains(t, body, "connection refused")
	assert.NotContains(t, body, "colab_script.py")
}

func TestIntegration_HealthAndMetrics(t *testing.T) {
	metrics.Register()
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)

	resp, body = ts.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "docustitch_generator_in_flight")
}

func TestIntegration_StaleCookieGetsNewSession(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "docustitch_session", Value: "purged-session"})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Len(t, resp.Cookies(), 1)
	assert.NotEqual(t, "purged-session", resp.Cookies()[0].Value)
}
