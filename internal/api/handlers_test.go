package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/natural-query/webapp/internal/backend"
	"github.com/natural-query/webapp/internal/session"
	"github.com/natural-query/webapp/internal/testutil"
	"github.com/natural-query/webapp/internal/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/xuri/excelize/v2"
)

// testServer is a fully wired echo instance talking to a fake query service.
type testServer struct {
	e        *echo.Echo
	backend  *testutil.FakeBackend
	store    *testutil.MockStorage
	sessions *session.Manager
	cookie   *http.Cookie
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fb := testutil.NewFakeBackend(t)
	store := testutil.NewMockStorage()
	sessions := session.NewManager(0, logger)

	renderer, err := web.NewRenderer()
	require.NoError(t, err)

	e := echo.New()
	e.Renderer = renderer
	SetupMiddleware(e, MiddlewareOptions{}, logger)
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Store:          store,
		SessionMgr:     sessions,
		Client:         backend.NewClient(backend.Config{BaseURL: fb.URL(), Timeout: 2 * time.Second, Logger: logger}),
		BackendURL:     fb.URL(),
		MaxUploadBytes: 1 << 20,
		ShowSQL:        true,
		Version:        "test",
		Logger:         logger,
	}))

	return &testServer{e: e, backend: fb, store: store, sessions: sessions}
}

// do sends req with the visitor's cookie and remembers any new one.
func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			s.cookie = c
		}
	}
	return rec
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (s *testServer) postForm(path, field, value string) *httptest.ResponseRecorder {
	body := strings.NewReader(field + "=" + value)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return s.do(req)
}

func (s *testServer) postJSON(path string, v any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(v)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return s.do(req)
}

func (s *testServer) postFile(path, name string, data []byte) *httptest.ResponseRecorder {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	if name != "" || data != nil {
		part, _ := writer.CreateFormFile("file", name)
		part.Write(data)
	} else {
		writer.WriteField("note", "no file")
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return s.do(req)
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func sampleWorkbook(t *testing.T) []byte {
	return testutil.WorkbookBytes(t, []string{"topic", "completed"}, [][]any{{"go", 3}, {"sql", 1}})
}

func answer(sql string, columns []string, rows [][]any) http.HandlerFunc {
	return testutil.RespondJSON(http.StatusOK, map[string]any{
		"sql":    sql,
		"result": map[string]any{"columns": columns, "rows": rows},
	})
}

func TestLandingPage(t *testing.T) {
	s := newTestServer(t)

	rec := s.get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Powerful Features for Data Analysis")
	assert.Nil(t, s.cookie, "landing page should not start a session")
}

func TestQueryViewStartsSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.get("/query")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.cookie)
	assert.True(t, s.cookie.HttpOnly)
	assert.Equal(t, 1, s.sessions.Count())

	// The same cookie keeps the same session.
	s.get("/query")
	assert.Equal(t, 1, s.sessions.Count())
}

func TestUploadFormWithoutFileSendsNothing(t *testing.T) {
	s := newTestServer(t)
	s.get("/query")

	rec := s.postFile("/query/upload", "", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/query", rec.Header().Get(echo.HeaderLocation))
	assert.Equal(t, 0, s.backend.CallCount())

	page := s.get("/query").Body.String()
	assert.Contains(t, page, "Please choose a file to upload.")
	assert.NotContains(t, page, "upload-success")
}

func TestUploadFormSuccess(t *testing.T) {
	s := newTestServer(t)
	s.get("/query")
	data := sampleWorkbook(t)

	rec := s.postFile("/query/upload", "sales.xlsx", data)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	calls := s.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/upload_excel", calls[0].Path)
	assert.Equal(t, "sales.xlsx", calls[0].FileName)
	assert.Equal(t, data, calls[0].FileData)

	page := s.get("/query").Body.String()
	assert.Contains(t, page, "File uploaded successfully! You can now query your data.")

	files, _ := s.store.List(10)
	require.Len(t, files, 1)
	assert.Equal(t, "xlsx", files[0].Format)
	assert.Equal(t, 2, files[0].RowCount)
}

func TestUploadFormMalformedBodyRedirects(t *testing.T) {
	s := newTestServer(t)
	s.get("/query")

	req := httptest.NewRequest(http.MethodPost, "/query/upload", strings.NewReader("not a multipart body"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEMultipartForm+"; boundary=xyz")
	rec := s.do(req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/query", rec.Header().Get(echo.HeaderLocation))
	assert.Equal(t, 0, s.backend.CallCount())
	assert.Contains(t, s.get("/query").Body.String(), "The upload could not be read. Please choose the file again.")
}

func TestUploadFormRejectsUnsupportedType(t *testing.T) {
	s := newTestServer(t)
	s.get("/query")

	rec := s.postFile("/query/upload", "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 0, s.backend.CallCount())
	assert.Contains(t, s.get("/query").Body.String(), "Only .xlsx and .xls files are supported.")
}

func TestUploadFormBackendFailure(t *testing.T) {
	s := newTestServer(t)
	s.get("/query")
	s.backend.OnUpload(testutil.RespondJSON(http.StatusBadRequest, map[string]string{"error": "No file part"}))

	rec := s.postFile("/query/upload", "sales.xlsx", sampleWorkbook(t))
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	page := s.get("/query").Body.String()
	assert.Contains(t, page, "No file part")
	assert.NotContains(t, page, "upload-success")

	files, _ := s.store.List(10)
	require.Len(t, files, 1)
	assert.Equal(t, "error", string(files[0].Status))
}

func TestFailedUploadKeepsPreviewCaption(t *testing.T) {
	s := newTestServer(t)
	s.get("/query")
	s.backend.OnUpload(testutil.RespondJSON(http.StatusOK, map[string]any{
		"message": "Table 'uploaded_table' created with 2 rows.",
		"preview": map[string]any{
			"columns": []string{"topic", "completed"},
			"rows":    [][]any{{"go", 3}, {"sql", 1}},
		},
	}))
	s.postFile("/query/upload", "first.xlsx", sampleWorkbook(t))

	s.backend.OnUpload(testutil.RespondJSON(http.StatusInternalServerError, map[string]string{"error": "disk full"}))
	rec := s.postFile("/query/upload", "second.xlsx", sampleWorkbook(t))
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	page := s.get("/query").Body.String()
	assert.Contains(t, page, "disk full")
	assert.Contains(t, page, "Preview of first.xlsx")
	assert.NotContains(t, page, "second.xlsx")

	view, ok := s.sessions.Get(s.cookie.Value)
	require.True(t, ok)
	assert.Equal(t, "first.xlsx", view.FileName)
	assert.Empty(t, view.PendingFile)
}

func TestAPIUpload(t *testing.T) {
	s := newTestServer(t)
	s.backend.OnUpload(testutil.RespondJSON(http.StatusOK, map[string]any{
		"message": "Table 'uploaded_table' created with 2 rows.",
		"columns": []string{"topic", "completed"},
	}))

	rec := s.postFile("/api/upload", "sales.xlsx", sampleWorkbook(t))
	require.Equal(t, http.StatusOK, rec.Code)

	var out uploadOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "sales.xlsx", out.File.Name)
	assert.Equal(t, "uploaded", string(out.File.Status))
	require.NotNil(t, out.Receipt)
	assert.Equal(t, []string{"topic", "completed"}, out.Receipt.Columns)
}

func TestAPIUploadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.postFile("/api/upload", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeAPIError(t, rec).Code)
		assert.Equal(t, 0, s.backend.CallCount())
	})

	t.Run("too large", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.postFile("/api/upload", "big.xlsx", make([]byte, 2<<20))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, 0, s.backend.CallCount())
	})

	t.Run("backend unreachable", func(t *testing.T) {
		s := newTestServer(t)
		s.backend.Server.Close()
		rec := s.postFile("/api/upload", "sales.xlsx", sampleWorkbook(t))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "BACKEND_UNREACHABLE", decodeAPIError(t, rec).Code)
	})
}

func TestQueryFormBlankSendsNothing(t *testing.T) {
	s := newTestServer(t)
	s.get("/query")

	for _, text := range []string{"", "+++"} { // "+" is a space in form encoding
		rec := s.postForm("/query/ask", "query", text)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
	}
	assert.Equal(t, 0, s.backend.CallCount())
	assert.Contains(t, s.get("/query").Body.String(), "Please type a question first.")
}

func TestQueryFormRendersResultsInOrder(t *testing.T) {
	s := newTestServer(t)
	s.get("/query")
	s.backend.OnQuery(answer("SELECT topic, completed FROM uploaded_table",
		[]string{"topic", "completed"},
		[][]any{{"go", 3}, {"sql", 1}, {"rust", 0}}))

	rec := s.postForm("/query/ask", "query", "show+every+topic")
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	calls := s.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "show every topic", calls[0].Query)

	page := s.get("/query").Body.String()
	assert.Equal(t, 2, strings.Count(page, "<th>"))
	assert.Equal(t, 3, strings.Count(page, "<tr><td>"))
	goAt := strings.Index(page, "<td>go</td>")
	sqlAt := strings.Index(page, "<td>sql</td>")
	rustAt := strings.Index(page, "<td>rust</td>")
	assert.True(t, goAt < sqlAt && sqlAt < rustAt)
	assert.Contains(t, page, "SELECT topic, completed FROM uploaded_table")
}

func TestAPIQuery(t *testing.T) {
	s := newTestServer(t)
	s.backend.OnQuery(answer("SELECT 1", []string{"n"}, [][]any{{1}}))

	rec := s.postJSON("/api/query", map[string]string{"query": "  one  "})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sql":"SELECT 1","result":{"columns":["n"],"rows":[[1]]}}`, rec.Body.String())
	assert.Equal(t, "  one  ", s.backend.Calls()[0].Query)

	rec = s.postJSON("/api/query", map[string]string{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, s.backend.CallCount())
}

func TestFailedQueryKeepsPriorResult(t *testing.T) {
	s := newTestServer(t)
	s.backend.OnQuery(answer("SELECT topic FROM uploaded_table", []string{"topic"}, [][]any{{"go"}}))
	require.Equal(t, http.StatusOK, s.postJSON("/api/query", map[string]string{"query": "topics"}).Code)

	testCases := []struct {
		name    string
		handler http.HandlerFunc
		code    string
		message string
	}{
		{
			name:    "status error",
			handler: testutil.RespondJSON(http.StatusInternalServerError, map[string]string{"error": "no table uploaded"}),
			code:    "BACKEND_ERROR",
			message: "no table uploaded",
		},
		{
			name:    "malformed body",
			handler: testutil.RespondRaw(http.StatusOK, "{not json"),
			code:    "BAD_BACKEND_RESPONSE",
			message: "could not be read",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s.backend.OnQuery(tc.handler)

			rec := s.postJSON("/api/query", map[string]string{"query": "broken"})
			assert.Equal(t, http.StatusBadGateway, rec.Code)
			assert.Equal(t, tc.code, decodeAPIError(t, rec).Code)

			page := s.get("/query").Body.String()
			assert.Contains(t, page, "<td>go</td>")
			assert.Contains(t, page, tc.message)
		})
	}
}

func TestConcurrentQueryIsRejected(t *testing.T) {
	s := newTestServer(t)
	s.get("/query")

	release := make(chan struct{})
	s.backend.OnQuery(func(w http.ResponseWriter, r *http.Request) {
		<-release
		answer("SELECT 1", []string{"n"}, [][]any{{1}})(w, r)
	})

	cookie := s.cookie
	done := make(chan int)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/query/ask", strings.NewReader("query=slow"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		s.e.ServeHTTP(rec, req)
		done <- rec.Code
	}()

	require.Eventually(t, func() bool { return s.backend.CallCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := s.postForm("/query/ask", "query", "again")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Generating Query...")
	assert.Contains(t, rec.Body.String(), `disabled aria-busy="true"`)

	rec = s.postJSON("/api/query", map[string]string{"query": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	assert.Equal(t, http.StatusSeeOther, <-done)
	assert.Equal(t, 1, s.backend.CallCount())
}

func TestExportResults(t *testing.T) {
	s := newTestServer(t)

	rec := s.get("/query/results.xlsx")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.backend.OnQuery(answer("SELECT topic, completed FROM uploaded_table",
		[]string{"topic", "completed"}, [][]any{{"go", 3}, {"sql", 1.5}}))
	s.postJSON("/api/query", map[string]string{"query": "topics"})

	rec = s.get("/query/results.xlsx")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "results.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Results")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"topic", "completed"}, {"go", "3"}, {"sql", "1.5"}}, rows)
}

func TestResultsMsgpack(t *testing.T) {
	s := newTestServer(t)

	rec := s.get("/api/results/msgpack")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.backend.OnQuery(answer("SELECT 1", []string{"n", "label"}, [][]any{{7, "seven"}}))
	s.postJSON("/api/query", map[string]string{"query": "seven"})

	rec = s.get("/api/results/msgpack")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))

	var out struct {
		Columns []string `msgpack:"columns"`
		Rows    [][]any  `msgpack:"rows"`
		SQL     string   `msgpack:"sql"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []string{"n", "label"}, out.Columns)
	assert.Equal(t, "SELECT 1", out.SQL)
	require.Len(t, out.Rows, 1)
	assert.EqualValues(t, 7, out.Rows[0][0])
	assert.Equal(t, "seven", out.Rows[0][1])
}

func TestStateEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.get("/api/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var state map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, s.cookie.Value, state["id"])
	assert.Equal(t, false, state["uploading"])
	assert.Equal(t, false, state["querying"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.get("/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}
