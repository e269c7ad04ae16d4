package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RecordedCall is one request seen by a FakeBackend.
type RecordedCall struct {
	Path        string
	ContentType string
	FileName    string // multipart "file" part, uploads only
	FileData    []byte
	Query       string // decoded {"query": ...}, queries only
}

// FakeBackend is an httptest server that stands in for the query service and
// records every call it receives.
type FakeBackend struct {
	Server *httptest.Server

	mu            sync.Mutex
	calls         []RecordedCall
	uploadHandler http.HandlerFunc
	queryHandler  http.HandlerFunc
}

// NewFakeBackend starts a fake that accepts uploads with an empty 200 and
// answers queries with an empty result set.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()

	f := &FakeBackend{}
	f.uploadHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	f.queryHandler = RespondJSON(http.StatusOK, map[string]any{
		"sql":    "SELECT * FROM uploaded_table",
		"result": map[string]any{"columns": []string{}, "rows": [][]any{}},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/upload_excel", f.handleUpload)
	mux.HandleFunc("/query", f.handleQuery)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the fake's origin.
func (f *FakeBackend) URL() string {
	return f.Server.URL
}

// OnUpload replaces the upload handler.
func (f *FakeBackend) OnUpload(h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadHandler = h
}

// OnQuery replaces the query handler.
func (f *FakeBackend) OnQuery(h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryHandler = h
}

// Calls returns a copy of the recorded calls.
func (f *FakeBackend) Calls() []RecordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedCall(nil), f.calls...)
}

// CallCount returns how many requests the fake has received.
func (f *FakeBackend) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *FakeBackend) handleUpload(w http.ResponseWriter, r *http.Request) {
	call := RecordedCall{Path: r.URL.Path, ContentType: r.Header.Get("Content-Type")}
	if file, header, err := r.FormFile("file"); err == nil {
		call.FileName = header.Filename
		call.FileData, _ = io.ReadAll(file)
		file.Close()
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	h := f.uploadHandler
	f.mu.Unlock()

	h(w, r)
}

func (f *FakeBackend) handleQuery(w http.ResponseWriter, r *http.Request) {
	call := RecordedCall{Path: r.URL.Path, ContentType: r.Header.Get("Content-Type")}
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		call.Query = body.Query
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	h := f.queryHandler
	f.mu.Unlock()

	h(w, r)
}

// RespondJSON returns a handler that writes v as JSON with the given status.
func RespondJSON(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
}

// RespondRaw returns a handler that writes body verbatim with the given status.
func RespondRaw(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}
