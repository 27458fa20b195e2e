package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/httpx"
)

const testID domain.FileID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type mockService struct {
	uploadFn    func(ctx context.Context, in app.UploadInput) (domain.View, error)
	getFn       func(ctx context.Context, id, pw string) (domain.View, error)
	downloadFn  func(ctx context.Context, id, pw string) (*app.Download, error)
	deleteFn    func(ctx context.Context, id, pw string) (domain.View, error)
	listFn      func(ctx context.Context) ([]domain.View, error)
	deleteAllFn func(ctx context.Context) (int64, error)
}

func (m *mockService) Upload(ctx context.Context, in app.UploadInput) (domain.View, error) {
	return m.uploadFn(ctx, in)
}
func (m *mockService) Get(ctx context.Context, id, pw string) (domain.View, error) {
	return m.getFn(ctx, id, pw)
}
func (m *mockService) Download(ctx context.Context, id, pw string) (*app.Download, error) {
	return m.downloadFn(ctx, id, pw)
}
func (m *mockService) Delete(ctx context.Context, id, pw string) (domain.View, error) {
	return m.deleteFn(ctx, id, pw)
}
func (m *mockService) ListAll(ctx context.Context) ([]domain.View, error) { return m.listFn(ctx) }
func (m *mockService) DeleteAllMetadata(ctx context.Context) (int64, error) {
	return m.deleteAllFn(ctx)
}

func sampleView() domain.View {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return domain.View{ID: testID, CreatedAt: ts, ExpiresAt: ts.Add(time.Hour), Path: testID.String() + ".blob", Message: "hi", Filename: "hello.txt", Size: 5, Protected: true}
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func serve(h *httpx.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	return w
}

func TestUploadSuccess(t *testing.T) {
	m := &mockService{uploadFn: func(_ context.Context, in app.UploadInput) (domain.View, error) {
		b, err := io.ReadAll(in.Body)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(b))
		assert.EqualValues(t, 5, in.Size)
		assert.Equal(t, "hello.txt", in.Filename)
		assert.Equal(t, "secret", in.Password)
		assert.Equal(t, "hi", in.Message)
		return sampleView(), nil
	}}
	h := httpx.New(m, 1024, nil)
	body, ct := multipartBody(t, map[string]string{"password": "secret", "message": "hi"}, "hello.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/v1/file", body)
	req.Header.Set("Content-Type", ct)
	w := serve(h, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get(httpx.CorrelationIDHeader))
	var got domain.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, sampleView(), got)
	assert.NotContains(t, w.Body.String(), "passwordHash")
}

func TestUploadIgnoresQueryFields(t *testing.T) {
	m := &mockService{uploadFn: func(_ context.Context, in app.UploadInput) (domain.View, error) {
		assert.Empty(t, in.Password)
		assert.Equal(t, "from body", in.Message)
		return sampleView(), nil
	}}
	h := httpx.New(m, 1024, nil)
	body, ct := multipartBody(t, map[string]string{"message": "from body"}, "hello.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/v1/file?password=leaked&message=query", body)
	req.Header.Set("Content-Type", ct)
	w := serve(h, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestUploadErrors(t *testing.T) {
	m := &mockService{uploadFn: func(context.Context, app.UploadInput) (domain.View, error) {
		return domain.View{}, domain.ErrEmptyFile
	}}
	h := httpx.New(m, 16, nil)

	t.Run("no file part", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"message": "x"}, "", nil)
		req := httptest.NewRequest(http.MethodPost, "/v1/file", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusBadRequest, serve(h, req).Code)
	})
	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/file", strings.NewReader("raw"))
		req.Header.Set("Content-Type", "text/plain")
		assert.Equal(t, http.StatusBadRequest, serve(h, req).Code)
	})
	t.Run("empty file", func(t *testing.T) {
		body, ct := multipartBody(t, nil, "empty.txt", nil)
		req := httptest.NewRequest(http.MethodPost, "/v1/file", body)
		req.Header.Set("Content-Type", ct)
		w := serve(h, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "empty file")
	})
	t.Run("too large", func(t *testing.T) {
		body, ct := multipartBody(t, nil, "big.bin", bytes.Repeat([]byte("x"), 2<<20))
		req := httptest.NewRequest(http.MethodPost, "/v1/file", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusRequestEntityTooLarge, serve(h, req).Code)
	})
}

func TestGetPassesPassword(t *testing.T) {
	m := &mockService{getFn: func(_ context.Context, id, pw string) (domain.View, error) {
		if pw == "" {
			return domain.View{}, domain.ErrPasswordRequired
		}
		if pw != "secret" {
			return domain.View{}, domain.ErrUnauthorized
		}
		assert.Equal(t, testID.String(), id)
		return sampleView(), nil
	}}
	h := httpx.New(m, 0, nil)

	base := "/v1/file/" + testID.String()
	cases := []struct {
		query string
		code  int
	}{
		{"", http.StatusBadRequest},
		{"?pass=no", http.StatusUnauthorized},
		{"?pass=secret", http.StatusOK},
	}
	for _, tc := range cases {
		w := serve(h, httptest.NewRequest(http.MethodGet, base+tc.query, nil))
		assert.Equal(t, tc.code, w.Code, tc.query)
	}
}

func TestGetNotFound(t *testing.T) {
	m := &mockService{getFn: func(context.Context, string, string) (domain.View, error) {
		return domain.View{}, domain.ErrNotFound
	}}
	w := serve(httpx.New(m, 0, nil), httptest.NewRequest(http.MethodGet, "/v1/file/zzz", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadStreams(t *testing.T) {
	m := &mockService{downloadFn: func(_ context.Context, id, pw string) (*app.Download, error) {
		assert.Equal(t, "secret", pw)
		return &app.Download{View: sampleView(), Body: io.NopCloser(strings.NewReader("hello")), Size: 5}, nil
	}}
	w := serve(httpx.New(m, 0, nil), httptest.NewRequest(http.MethodGet, "/v1/file/download/"+testID.String()+"?pass=secret", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "5", w.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename=hello.txt`, w.Header().Get("Content-Disposition"))
}

func TestDownloadFallbackFilename(t *testing.T) {
	v := sampleView()
	v.Filename = ""
	m := &mockService{downloadFn: func(context.Context, string, string) (*app.Download, error) {
		return &app.Download{View: v, Body: io.NopCloser(strings.NewReader("x")), Size: 1}, nil
	}}
	w := serve(httpx.New(m, 0, nil), httptest.NewRequest(http.MethodGet, "/v1/file/download/"+testID.String(), nil))
	assert.Equal(t, "attachment; filename="+testID.String(), w.Header().Get("Content-Disposition"))
}

func TestDownloadStorageError(t *testing.T) {
	m := &mockService{downloadFn: func(context.Context, string, string) (*app.Download, error) {
		return nil, domain.ErrStorageUnavailable
	}}
	w := serve(httpx.New(m, 0, nil), httptest.NewRequest(http.MethodGet, "/v1/file/download/"+testID.String(), nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeleteReportsBlobMissing(t *testing.T) {
	m := &mockService{deleteFn: func(_ context.Context, id, pw string) (domain.View, error) {
		v := sampleView()
		v.BlobMissing = true
		return v, nil
	}}
	w := serve(httpx.New(m, 0, nil), httptest.NewRequest(http.MethodDelete, "/v1/file/"+testID.String()+"?pass=secret", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"blobMissing":true`)
}

func TestAdminRoutes(t *testing.T) {
	m := &mockService{
		listFn: func(context.Context) ([]domain.View, error) { return []domain.View{sampleView()}, nil },
		deleteAllFn: func(context.Context) (int64, error) {
			return 3, nil
		},
	}
	h := httpx.New(m, 0, nil)
	h.APIKey = "admin"

	w := serve(h, httptest.NewRequest(http.MethodGet, "/v1/file", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/file", nil)
	req.Header.Set(httpx.APIKeyHeader, "admin")
	w = serve(h, req)
	require.Equal(t, http.StatusOK, w.Code)
	var views []domain.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	assert.Len(t, views, 1)

	req = httptest.NewRequest(http.MethodDelete, "/v1/file", nil)
	req.Header.Set(httpx.APIKeyHeader, "admin")
	w = serve(h, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":3}`, w.Body.String())
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	called := false
	m := &mockService{listFn: func(context.Context) ([]domain.View, error) {
		called = true
		return nil, nil
	}}
	req := httptest.NewRequest(http.MethodGet, "/v1/file", nil)
	req.Header.Set(httpx.APIKeyHeader, "")
	w := serve(httpx.New(m, 0, nil), req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)
}

func TestMethodNotAllowed(t *testing.T) {
	w := serve(httpx.New(&mockService{}, 0, nil), httptest.NewRequest(http.MethodPut, "/v1/file/"+testID.String(), nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMetricsRouteOptional(t *testing.T) {
	h := httpx.New(&mockService{}, 0, nil)
	assert.Equal(t, http.StatusNotFound, serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code)

	h.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	assert.Equal(t, http.StatusTeapot, serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code)
}

func TestStatusRoute(t *testing.T) {
	w := serve(httpx.New(&mockService{}, 0, nil), httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"online"}`, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}
