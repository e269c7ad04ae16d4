// Package backend is the HTTP client for the spreadsheet query service that
// ingests uploaded workbooks and answers natural-language questions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/natural-query/webapp/internal/models"
)

const (
	DefaultBaseURL = "http://localhost:5000"
	DefaultTimeout = 60 * time.Second

	uploadPath = "/upload_excel"
	queryPath  = "/query"

	// maxErrorBody caps how much of a failed response is read for its message.
	maxErrorBody = 64 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Logger    *slog.Logger
}

// Client talks to the query service.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client, filling unset config fields with defaults.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   baseURL,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// BaseURL returns the origin requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadSpreadsheet sends a workbook as multipart field "file". The backend's
// status decides success; a JSON body, when present, is returned as a receipt.
func (c *Client) UploadSpreadsheet(ctx context.Context, name string, r io.Reader) (*models.UploadReceipt, error) {
	if name == "" || r == nil {
		return nil, ErrNoFile
	}

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copying %s into request: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, &buffer)
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := c.do(req, "upload")
	if err != nil {
		c.logger.ErrorContext(ctx, "upload failed", "file", name, "error", err)
		return nil, err
	}

	receipt := &models.UploadReceipt{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := decodeJSON(body, receipt); err != nil {
			c.logger.WarnContext(ctx, "upload response body ignored", "file", name, "error", err)
			receipt = &models.UploadReceipt{}
		}
	}

	c.logger.InfoContext(ctx, "spreadsheet uploaded", "file", name, "message", receipt.Message)
	return receipt, nil
}

// Query asks the backend a natural-language question. Whitespace-only text is
// rejected locally; otherwise the text is sent exactly as given.
func (c *Client) Query(ctx context.Context, text string) (*models.QueryResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}

	payload, err := json.Marshal(models.QueryRequest{Query: text})
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+queryPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, "query")
	if err != nil {
		c.logger.ErrorContext(ctx, "query failed", "error", err)
		return nil, err
	}

	var resp models.QueryResponse
	if err := decodeJSON(body, &resp); err != nil {
		err = &Error{Op: "query", Kind: KindDecode, Err: err}
		c.logger.ErrorContext(ctx, "query failed", "error", err)
		return nil, err
	}
	if resp.Result == nil {
		err = &Error{Op: "query", Kind: KindDecode, Err: fmt.Errorf("response has no result")}
		c.logger.ErrorContext(ctx, "query failed", "error", err)
		return nil, err
	}

	c.logger.InfoContext(ctx, "query answered",
		"sql", resp.SQL,
		"columns", resp.Result.ColumnCount(),
		"rows", resp.Result.RowCount())
	return &resp, nil
}

// do sends req and returns the body of a 2xx response. Transport failures and
// non-2xx statuses come back as *Error.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{
			Op:         op,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindNetwork, Err: fmt.Errorf("reading response: %w", err)}
	}
	return body, nil
}

// decodeJSON keeps numbers as json.Number so cells render the way the backend wrote them.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// errorMessage pulls the "error" field out of a failure body, falling back to
// short plain-text bodies.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		return body.Error
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 || strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}
