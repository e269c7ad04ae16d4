package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/natural-query/webapp/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)

	c = NewClient(Config{BaseURL: "http://backend:5000/", Timeout: 5 * time.Second})
	assert.Equal(t, "http://backend:5000", c.BaseURL())
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
}

func TestUploadSpreadsheet(t *testing.T) {
	t.Run("sends multipart file field", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		c := newTestClient(fake.URL())

		receipt, err := c.UploadSpreadsheet(context.Background(), "sales.xlsx", strings.NewReader("workbook-bytes"))
		require.NoError(t, err)
		require.NotNil(t, receipt)

		calls := fake.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "/upload_excel", calls[0].Path)
		assert.True(t, strings.HasPrefix(calls[0].ContentType, "multipart/form-data"))
		assert.Equal(t, "sales.xlsx", calls[0].FileName)
		assert.Equal(t, "workbook-bytes", string(calls[0].FileData))
	})

	t.Run("decodes optional receipt", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		fake.OnUpload(testutil.RespondJSON(http.StatusOK, map[string]any{
			"message": "Table 'uploaded_table' created with 2 rows.",
			"columns": []string{"topic", "completed"},
			"preview": map[string]any{
				"columns": []string{"topic", "completed"},
				"rows":    [][]any{{"go", 3}, {"sql", 1}},
			},
		}))
		c := newTestClient(fake.URL())

		receipt, err := c.UploadSpreadsheet(context.Background(), "a.xlsx", strings.NewReader("x"))
		require.NoError(t, err)
		assert.Equal(t, "Table 'uploaded_table' created with 2 rows.", receipt.Message)
		assert.Equal(t, []string{"topic", "completed"}, receipt.Columns)
		require.NotNil(t, receipt.Preview)
		assert.Equal(t, 2, receipt.Preview.RowCount())
		assert.Equal(t, json.Number("3"), receipt.Preview.Rows[0][1])
	})

	t.Run("non-JSON success body still succeeds", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		fake.OnUpload(testutil.RespondRaw(http.StatusOK, "ok"))
		c := newTestClient(fake.URL())

		receipt, err := c.UploadSpreadsheet(context.Background(), "a.xlsx", strings.NewReader("x"))
		require.NoError(t, err)
		assert.Empty(t, receipt.Message)
	})

	t.Run("no file issues no request", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		c := newTestClient(fake.URL())

		_, err := c.UploadSpreadsheet(context.Background(), "", strings.NewReader("x"))
		assert.True(t, errors.Is(err, ErrNoFile))

		_, err = c.UploadSpreadsheet(context.Background(), "a.xlsx", nil)
		assert.True(t, errors.Is(err, ErrNoFile))

		assert.Equal(t, 0, fake.CallCount())
	})

	t.Run("status error carries backend message", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		fake.OnUpload(testutil.RespondJSON(http.StatusBadRequest, map[string]string{"error": "No selected file"}))
		c := newTestClient(fake.URL())

		_, err := c.UploadSpreadsheet(context.Background(), "a.xlsx", strings.NewReader("x"))
		require.Error(t, err)

		var be *Error
		require.True(t, errors.As(err, &be))
		assert.Equal(t, KindStatus, be.Kind)
		assert.Equal(t, http.StatusBadRequest, be.StatusCode)
		assert.Equal(t, "No selected file", be.Message)
		assert.Equal(t, "upload", be.Op)
	})
}

func TestQuery(t *testing.T) {
	t.Run("decodes result preserving order", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		fake.OnQuery(testutil.RespondRaw(http.StatusOK,
			`{"sql":"SELECT topic, completed FROM uploaded_table","result":{"columns":["topic","completed"],"rows":[["go",3],["sql",1.50],[null,0]]}}`))
		c := newTestClient(fake.URL())

		resp, err := c.Query(context.Background(), "show topic and completed")
		require.NoError(t, err)

		assert.Equal(t, "SELECT topic, completed FROM uploaded_table", resp.SQL)
		assert.Equal(t, []string{"topic", "completed"}, resp.Result.Columns)
		require.Len(t, resp.Result.Rows, 3)
		assert.Equal(t, "go", resp.Result.Rows[0][0])
		assert.Equal(t, json.Number("1.50"), resp.Result.Rows[1][1])
		assert.Nil(t, resp.Result.Rows[2][0])

		calls := fake.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "/query", calls[0].Path)
		assert.Equal(t, "application/json", calls[0].ContentType)
		assert.Equal(t, "show topic and completed", calls[0].Query)
	})

	t.Run("text is sent untrimmed", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		c := newTestClient(fake.URL())

		_, err := c.Query(context.Background(), "  count rows\n")
		require.NoError(t, err)
		assert.Equal(t, "  count rows\n", fake.Calls()[0].Query)
	})

	t.Run("blank text issues no request", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		c := newTestClient(fake.URL())

		for _, text := range []string{"", "   ", "\n\t"} {
			_, err := c.Query(context.Background(), text)
			assert.True(t, errors.Is(err, ErrEmptyQuery))
		}
		assert.Equal(t, 0, fake.CallCount())
	})

	t.Run("malformed body is a decode error", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		fake.OnQuery(testutil.RespondRaw(http.StatusOK, "<html>oops</html>"))
		c := newTestClient(fake.URL())

		_, err := c.Query(context.Background(), "count")
		assert.True(t, IsKind(err, KindDecode))
	})

	t.Run("missing result is a decode error", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		fake.OnQuery(testutil.RespondRaw(http.StatusOK, `{"sql":"SELECT 1"}`))
		c := newTestClient(fake.URL())

		_, err := c.Query(context.Background(), "count")
		assert.True(t, IsKind(err, KindDecode))
	})

	t.Run("server error is a status error", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		fake.OnQuery(testutil.RespondJSON(http.StatusInternalServerError, map[string]string{"error": "no such column: foo"}))
		c := newTestClient(fake.URL())

		_, err := c.Query(context.Background(), "highest foo")
		var be *Error
		require.True(t, errors.As(err, &be))
		assert.Equal(t, KindStatus, be.Kind)
		assert.Equal(t, "no such column: foo", be.Message)
		assert.Contains(t, be.UserMessage(), "no such column: foo")
	})

	t.Run("unreachable backend is a network error", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		url := fake.URL()
		fake.Server.Close()
		c := newTestClient(url)

		_, err := c.Query(context.Background(), "count")
		assert.True(t, IsKind(err, KindNetwork))
	})

	t.Run("slow backend times out", func(t *testing.T) {
		fake := testutil.NewFakeBackend(t)
		fake.OnQuery(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})
		c := NewClient(Config{
			BaseURL: fake.URL(),
			Timeout: 50 * time.Millisecond,
			Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		})

		_, err := c.Query(context.Background(), "count")
		assert.True(t, IsKind(err, KindNetwork))
	})
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "Please choose a file to upload.", UserMessage(ErrNoFile))
	assert.Equal(t, "Please type a question first.", UserMessage(ErrEmptyQuery))

	network := UserMessage(&Error{Op: "query", Kind: KindNetwork, Err: errors.New("dial")})
	status := UserMessage(&Error{Op: "query", Kind: KindStatus, StatusCode: 500})
	decode := UserMessage(&Error{Op: "query", Kind: KindDecode, Err: errors.New("eof")})

	assert.NotEqual(t, network, status)
	assert.NotEqual(t, status, decode)
	assert.NotEqual(t, network, decode)
	assert.Contains(t, status, "500")
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad", errorMessage([]byte(`{"error":"bad"}`)))
	assert.Equal(t, "plain failure", errorMessage([]byte("plain failure\n")))
	assert.Equal(t, "", errorMessage([]byte("<html><body>500</body></html>")))
}
