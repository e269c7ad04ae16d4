// Package models contains domain types for the Natural Query Generator front end.
package models

// ResultSet is a tabular query result: ordered column names and ordered rows of
// heterogeneous scalar cells (json.Number, string, bool or nil).
type ResultSet struct {
	Columns []string `json:"columns" msgpack:"columns"`
	Rows    [][]any  `json:"rows" msgpack:"rows"`
}

// RowCount returns the number of rows, tolerating a nil receiver.
func (r *ResultSet) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// ColumnCount returns the number of columns, tolerating a nil receiver.
func (r *ResultSet) ColumnCount() int {
	if r == nil {
		return 0
	}
	return len(r.Columns)
}

// QueryRequest is the body sent to the backend's /query endpoint.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse is the backend's reply to a natural-language query.
type QueryResponse struct {
	Result *ResultSet `json:"result"`
	SQL    string     `json:"sql"`
}

// UploadReceipt is the optional body returned by /upload_excel. Every field may
// be empty: a 2xx status alone signals success.
type UploadReceipt struct {
	Message string     `json:"message,omitempty"`
	Columns []string   `json:"columns,omitempty"`
	Preview *ResultSet `json:"preview,omitempty"`
}
