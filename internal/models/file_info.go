package models

import "time"

// FileStatus tracks where a staged spreadsheet is in its trip to the backend.
type FileStatus string

const (
	FileStatusStaged   FileStatus = "staged"
	FileStatusUploaded FileStatus = "uploaded"
	FileStatusError    FileStatus = "error"
)

// FileInfo represents metadata about a staged spreadsheet upload.
type FileInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Size       int64      `json:"size"`
	Format     string     `json:"format,omitempty"` // "xlsx" or "xls"
	Sheets     []string   `json:"sheets,omitempty"`
	RowCount   int        `json:"rowCount,omitempty"`
	UploadedAt time.Time  `json:"uploadedAt"`
	Status     FileStatus `json:"status"`
}
