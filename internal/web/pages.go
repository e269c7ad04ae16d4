package web

import (
	"strings"
	"time"

	"github.com/natural-query/webapp/internal/models"
	"github.com/natural-query/webapp/internal/spreadsheet"
)

// Feature is a card on the landing page.
type Feature struct {
	Icon  string
	Title string
	Body  string
}

// LandingPage is the data for the landing template.
type LandingPage struct {
	Year     int
	Orbs     []int
	Features []Feature
	Steps    []Feature
}

// NewLandingPage returns the landing page content.
func NewLandingPage() LandingPage {
	return LandingPage{
		Year: time.Now().Year(),
		Orbs: []int{0, 1, 2, 3, 4, 5},
		Features: []Feature{
			{Icon: "▦", Title: "Smart Excel Processing", Body: "Upload .xlsx or .xls workbooks. Columns are detected automatically so you can start asking questions right away."},
			{Icon: "✦", Title: "AI-Powered NLP Engine", Body: "Questions in everyday language are translated into SQL against your data."},
			{Icon: "✉", Title: "Conversational Interface", Body: "Ask follow-up questions and see each answer as a clean, exportable table."},
		},
		Steps: []Feature{
			{Title: "Upload Your Data", Body: "Choose an Excel file from your computer."},
			{Title: "Ask Questions", Body: "Type what you want to know, like 'highest completed' or 'count rows'."},
			{Title: "Get Insights", Body: "Read the results table or download it as a workbook."},
		},
	}
}

// QueryPage is the data for the query template.
type QueryPage struct {
	Year        int
	View        models.ViewState
	Accept      string
	MaxUploadMB int64
	ShowSQL     bool
	Preview     *models.ResultSet
}

// NewQueryPage builds the query view for a session snapshot.
func NewQueryPage(view models.ViewState, maxUploadMB int64, showSQL bool) QueryPage {
	page := QueryPage{
		Year:        time.Now().Year(),
		View:        view,
		Accept:      strings.Join(spreadsheet.AllowedExtensions, ","),
		MaxUploadMB: maxUploadMB,
		ShowSQL:     showSQL,
	}
	if view.UploadSuccess && view.Receipt != nil && view.Receipt.Preview.RowCount() > 0 {
		page.Preview = view.Receipt.Preview
	}
	return page
}
