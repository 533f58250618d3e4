package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/knowme/internal/chat"
	"github.com/fyrsmithlabs/knowme/internal/chunker"
	"github.com/fyrsmithlabs/knowme/internal/documents"
	"github.com/fyrsmithlabs/knowme/internal/llm"
	"github.com/fyrsmithlabs/knowme/internal/logging"
	"github.com/fyrsmithlabs/knowme/internal/vectorstore"
)

type fakeDocuments struct {
	mu          sync.Mutex
	uploads     []string
	body        string
	users       []string
	sources     []string
	err         error
	deleted     string
	cancellable bool
}

func (f *fakeDocuments) Upload(ctx context.Context, userID, filename string, r io.Reader) (*documents.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	f.cancellable = ctx.Done() != nil
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.body = string(data)
	f.uploads = append(f.uploads, filename)
	chunks := []chunker.Chunk{{Content: "hello", Page: 1, Source: filename, Type: "text"}}
	return &documents.UploadResult{
		Filename: filename,
		Chunks:   chunks,
		Stored:   []documents.Record{{ID: "1", Text: "hello", Page: 1, Source: filename, Type: "text", UserID: userID}},
	}, nil
}

func (f *fakeDocuments) ListSources(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return f.sources, f.err
}

func (f *fakeDocuments) DeleteSource(_ context.Context, userID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	if f.err != nil {
		return "", f.err
	}
	f.deleted = name
	return name, nil
}

type fakeChat struct {
	messages []string
	users    []string
	reset    []string
	answer   *chat.Answer
	err      error
}

func (f *fakeChat) Chat(_ context.Context, userID, message string) (*chat.Answer, error) {
	f.users = append(f.users, userID)
	f.messages = append(f.messages, message)
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func (f *fakeChat) Reset(_ context.Context, userID string) error {
	f.reset = append(f.reset, userID)
	return f.err
}

type fakeProfiles struct {
	saved map[string]map[string]string
	err   error
}

func (f *fakeProfiles) Save(_ context.Context, userID string, data map[string]string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: profile data required", vectorstore.ErrInvalidRequest)
	}
	if f.saved == nil {
		f.saved = map[string]map[string]string{}
	}
	f.saved[userID] = data
	return "", nil
}

func (f *fakeProfiles) Get(_ context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if data, ok := f.saved[userID]; ok {
		return "name: " + data["name"], nil
	}
	return "", nil
}

type testServer struct {
	*Server
	docs     *fakeDocuments
	chat     *fakeChat
	profiles *fakeProfiles
	log      *logging.TestLogger
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		docs:     &fakeDocuments{},
		chat:     &fakeChat{answer: &chat.Answer{Response: "hi", Sources: []string{"a.pdf (Page 1)"}}},
		profiles: &fakeProfiles{},
		log:      logging.NewTestLogger(),
	}
	server, err := NewServer(Dependencies{
		Documents: ts.docs,
		Chat:      ts.chat,
		Profiles:  ts.profiles,
	}, ts.log.Logger, &Config{Host: "localhost", Port: 9090, MaxUploadBytes: 1 << 20})
	require.NoError(t, err)
	ts.Server = server
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload_pdf/", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestNewServer(t *testing.T) {
	deps := Dependencies{Documents: &fakeDocuments{}, Chat: &fakeChat{}, Profiles: &fakeProfiles{}}

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(deps, logging.Nop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:8000", server.Addr())
		assert.Equal(t, "32M", server.config.BodyLimit)
		assert.Equal(t, 10*time.Second, server.config.ShutdownTimeout)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(deps, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when a service is missing", func(t *testing.T) {
		_, err := NewServer(Dependencies{Documents: &fakeDocuments{}}, logging.Nop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "required")
	})
}

func TestHandleRoot(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[string](t, rec), "Welcome to KnowMe")
}

func TestHandleHealth(t *testing.T) {
	t.Run("ok without a checker", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
	})

	t.Run("degraded when the checker fails", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.deps.Health = func(context.Context) error { return vectorstore.ErrStoreUnavailable }

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "degraded", decode[HealthResponse](t, rec).Status)
		ts.log.AssertLogged(t, zapcore.WarnLevel, "health check failed")
	})
}

func TestHandleUpload(t *testing.T) {
	t.Run("stores a pdf for the caller", func(t *testing.T) {
		ts := setupTestServer(t)
		req := uploadRequest(t, "report.pdf", "%PDF-1.4")
		req.Header.Set(HeaderUserID, "alice")

		rec := ts.do(req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[UploadResponse](t, rec)
		assert.Equal(t, "report.pdf", resp.Filename)
		assert.Equal(t, 1, resp.ChunksStored)
		require.Len(t, resp.Chunks, 1)
		assert.Equal(t, "hello", resp.Chunks[0].Content)
		assert.Equal(t, "Successfully uploaded and processed report.pdf", resp.Message)
		assert.Equal(t, []string{"alice"}, ts.docs.users)
		assert.Equal(t, "%PDF-1.4", ts.docs.body)
		assert.False(t, ts.docs.cancellable, "upload must not be canceled with the request")
	})

	t.Run("accepts an upper-case extension", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(uploadRequest(t, "REPORT.PDF", "x"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects non-pdf files", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(uploadRequest(t, "notes.txt", "hello"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, KindInvalidRequest, resp.Kind)
		assert.Contains(t, resp.Detail, "only PDF files")
		assert.Empty(t, ts.docs.uploads)
	})

	t.Run("requires the file field", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(httptest.NewRequest(http.MethodPost, "/upload_pdf/", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, KindInvalidRequest, decode[ErrorResponse](t, rec).Kind)
	})

	t.Run("rejects oversized files", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.config.MaxUploadBytes = 4

		rec := ts.do(uploadRequest(t, "big.pdf", "0123456789"))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Empty(t, ts.docs.uploads)
	})

	t.Run("store outage is 503", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.docs.err = fmt.Errorf("upserting: %w", vectorstore.ErrStoreUnavailable)

		rec := ts.do(uploadRequest(t, "report.pdf", "x"))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, KindStoreUnavailable, decode[ErrorResponse](t, rec).Kind)
		ts.log.AssertLogged(t, zapcore.ErrorLevel, "request failed")
	})
}

func TestHandleChat(t *testing.T) {
	t.Run("query parameter", func(t *testing.T) {
		ts := setupTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/chat/?user_msg=hello", nil)
		req.Header.Set(HeaderUserID, "bob")

		rec := ts.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[ChatResponse](t, rec)
		assert.Equal(t, "hi", resp.Response)
		assert.Equal(t, []string{"a.pdf (Page 1)"}, resp.Source)
		assert.Equal(t, []string{"bob"}, ts.chat.users)
		assert.Equal(t, []string{"hello"}, ts.chat.messages)
	})

	t.Run("json body", func(t *testing.T) {
		ts := setupTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/chat/", strings.NewReader(`{"user_msg":"from body"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

		rec := ts.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"from body"}, ts.chat.messages)
		assert.Equal(t, []string{AnonymousUser}, ts.chat.users)
	})

	t.Run("empty message is 400", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(httptest.NewRequest(http.MethodPost, "/chat/?user_msg=%20%20", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, KindInvalidRequest, decode[ErrorResponse](t, rec).Kind)
		assert.Empty(t, ts.chat.messages)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(httptest.NewRequest(http.MethodPost, "/chat/", strings.NewReader(`{`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("generation failure is 502", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.chat.err = fmt.Errorf("%w: quota exceeded", llm.ErrGenerationFailed)

		rec := ts.do(httptest.NewRequest(http.MethodPost, "/chat/?user_msg=hello", nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, KindGenerationFailed, resp.Kind)
		assert.Contains(t, resp.Detail, "quota exceeded")
	})

	t.Run("reset memory", func(t *testing.T) {
		ts := setupTestServer(t)
		req := httptest.NewRequest(http.MethodDelete, "/chat/memory", nil)
		req.Header.Set(HeaderUserID, "carol")

		rec := ts.do(req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"carol"}, ts.chat.reset)
	})
}

func TestHandleDocuments(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.docs.sources = []string{"a.pdf", "b.pdf"}

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/pdfs/", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"a.pdf", "b.pdf"}, decode[DocumentsResponse](t, rec).PDFs)
	})

	t.Run("list empty is an empty array", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/pdfs/", nil))

		assert.JSONEq(t, `{"pdfs":[]}`, rec.Body.String())
	})

	t.Run("delete", func(t *testing.T) {
		ts := setupTestServer(t)
		req := httptest.NewRequest(http.MethodDelete, "/pdfs/report.pdf", nil)
		req.Header.Set(HeaderUserID, "alice")

		rec := ts.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, decode[MessageResponse](t, rec).Message, "report.pdf")
		assert.Equal(t, "report.pdf", ts.docs.deleted)
		assert.Equal(t, []string{"alice"}, ts.docs.users)
	})

	t.Run("delete unknown is 404", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.docs.err = fmt.Errorf("%w: no chunks for document %q", documents.ErrNotFound, "missing.pdf")

		rec := ts.do(httptest.NewRequest(http.MethodDelete, "/pdfs/missing.pdf", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, KindNotFound, decode[ErrorResponse](t, rec).Kind)
	})
}

func TestHandleProfile(t *testing.T) {
	t.Run("save then get", func(t *testing.T) {
		ts := setupTestServer(t)
		req := httptest.NewRequest(http.MethodPut, "/profile/", strings.NewReader(`{"name":"Ada","age":36}`))
		req.Header.Set(HeaderUserID, "ada")

		rec := ts.do(req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, map[string]string{"name": "Ada", "age": "36"}, ts.profiles.saved["ada"])

		req = httptest.NewRequest(http.MethodGet, "/profile/", nil)
		req.Header.Set(HeaderUserID, "ada")
		rec = ts.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, ProfileResponse{UserID: "ada", Profile: "name: Ada"}, decode[ProfileResponse](t, rec))
	})

	t.Run("non-object body is 400", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(httptest.NewRequest(http.MethodPut, "/profile/", strings.NewReader(`["a"]`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty object is 400", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(httptest.NewRequest(http.MethodPut, "/profile/", strings.NewReader(`{}`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing profile is empty", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/profile/", nil))

		assert.Equal(t, ProfileResponse{UserID: AnonymousUser}, decode[ProfileResponse](t, rec))
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"invalid", fmt.Errorf("x: %w", vectorstore.ErrInvalidRequest), http.StatusBadRequest, KindInvalidRequest},
		{"not found", documents.ErrNotFound, http.StatusNotFound, KindNotFound},
		{"unavailable", vectorstore.ErrStoreUnavailable, http.StatusServiceUnavailable, KindStoreUnavailable},
		{"generation", llm.ErrGenerationFailed, http.StatusBadGateway, KindGenerationFailed},
		{"echo 404", echo.ErrNotFound, http.StatusNotFound, KindNotFound},
		{"echo 413", echo.ErrStatusRequestEntityTooLarge, http.StatusRequestEntityTooLarge, KindInvalidRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("keeps a valid caller request ID", func(t *testing.T) {
		ts := setupTestServer(t)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(echo.HeaderXRequestID, "req-123")

		rec := ts.do(req)

		assert.Equal(t, "req-123", rec.Header().Get(echo.HeaderXRequestID))
		ts.log.AssertField(t, "http request", "request.id", "req-123")
	})

	t.Run("replaces an invalid request ID", func(t *testing.T) {
		ts := setupTestServer(t)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(echo.HeaderXRequestID, "bad id with spaces")

		rec := ts.do(req)

		got := rec.Header().Get(echo.HeaderXRequestID)
		assert.NotEmpty(t, got)
		assert.NotEqual(t, "bad id with spaces", got)
	})

	t.Run("logs the caller identity", func(t *testing.T) {
		ts := setupTestServer(t)
		req := httptest.NewRequest(http.MethodGet, "/pdfs/", nil)
		req.Header.Set(HeaderUserID, "dave")

		ts.do(req)

		ts.log.AssertField(t, "http request", "user.id", "dave")
	})

	t.Run("recovers from panic", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			ts.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, KindInternal, decode[ErrorResponse](t, rec).Kind)
	})

	t.Run("unknown route is a json 404", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/nope", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, KindNotFound, decode[ErrorResponse](t, rec).Kind)
	})

	t.Run("serves prometheus metrics", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})
}

func TestServerLifecycle(t *testing.T) {
	t.Run("run stops when the context is canceled", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := l.Addr().(*net.TCPAddr).Port
		require.NoError(t, l.Close())

		server, err := NewServer(Dependencies{
			Documents: &fakeDocuments{},
			Chat:      &fakeChat{},
			Profiles:  &fakeProfiles{},
		}, logging.Nop(), &Config{Host: "127.0.0.1", Port: port, ShutdownTimeout: 5 * time.Second})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		errChan := make(chan error, 1)
		go func() { errChan <- server.Run(ctx) }()

		require.Eventually(t, func() bool {
			conn, err := net.Dial("tcp", server.Addr())
			if err != nil {
				return false
			}
			conn.Close()
			return true
		}, 5*time.Second, 20*time.Millisecond)

		cancel()

		select {
		case err := <-errChan:
			assert.NoError(t, err)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}
