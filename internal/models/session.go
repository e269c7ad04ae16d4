package models

import "time"

// ViewState is the per-visitor state of the query view.
type ViewState struct {
	ID string `json:"id"`

	// Upload panel
	FileName      string         `json:"fileName,omitempty"`    // last accepted upload
	PendingFile   string         `json:"pendingFile,omitempty"` // upload in flight
	Uploading     bool           `json:"uploading"`
	UploadSuccess bool           `json:"uploadSuccess"`
	Receipt       *UploadReceipt `json:"receipt,omitempty"`
	UploadError   string         `json:"uploadError,omitempty"`

	// Query panel
	Query      string     `json:"query,omitempty"`
	Querying   bool       `json:"querying"`
	Result     *ResultSet `json:"result,omitempty"`
	SQL        string     `json:"sql,omitempty"`
	QueryError string     `json:"queryError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewViewState creates an empty view state.
func NewViewState(id string) *ViewState {
	now := time.Now()
	return &ViewState{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
