package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/natural-query/webapp/internal/backend"
	"github.com/natural-query/webapp/internal/logging"
	"github.com/natural-query/webapp/internal/models"
	"github.com/natural-query/webapp/internal/spreadsheet"
	"github.com/natural-query/webapp/internal/web"
	"github.com/urfave/cli/v3"
)

func newApp(out io.Writer) *cli.Command {
	backendFlag := &cli.StringFlag{
		Name:    "backend",
		Value:   backend.DefaultBaseURL,
		Usage:   "query service origin",
		Sources: cli.EnvVars("BACKEND_URL"),
	}
	timeoutFlag := &cli.DurationFlag{
		Name:    "timeout",
		Value:   backend.DefaultTimeout,
		Usage:   "per-request timeout",
		Sources: cli.EnvVars("BACKEND_TIMEOUT"),
	}
	logLevelFlag := &cli.StringFlag{
		Name:    "log-level",
		Value:   "warn",
		Sources: cli.EnvVars("LOG_LEVEL"),
	}
	showSQLFlag := &cli.BoolFlag{
		Name:  "sql",
		Usage: "print the generated SQL above the table",
	}

	return &cli.Command{
		Name:      "nlq",
		Usage:     "ask questions about a spreadsheet in plain English",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags:     []cli.Flag{backendFlag, timeoutFlag, logLevelFlag},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "send an .xlsx or .xls workbook to the query service",
				ArgsUsage: "<file>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runUpload(ctx, newClient(cmd), cmd.Args().First(), out)
				},
			},
			{
				Name:      "query",
				Usage:     "ask a question and print the result table",
				ArgsUsage: "<question...>",
				Flags:     []cli.Flag{showSQLFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runQuery(ctx, newClient(cmd), strings.Join(cmd.Args().Slice(), " "), cmd.Bool("sql"), out)
				},
			},
			{
				Name:      "export",
				Usage:     "ask a question and write the result to a workbook",
				ArgsUsage: "<question...>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Value:   "results.xlsx",
						Usage:   "workbook to write",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runExport(ctx, newClient(cmd), strings.Join(cmd.Args().Slice(), " "), cmd.String("output"), out)
				},
			},
		},
	}
}

func newClient(cmd *cli.Command) *backend.Client {
	return backend.NewClient(backend.Config{
		BaseURL:   cmd.String("backend"),
		Timeout:   cmd.Duration("timeout"),
		UserAgent: "nlq",
		Logger:    logging.New(os.Stderr, cmd.String("log-level"), "text"),
	})
}

// cliError turns package errors into the sentence a terminal user should see.
func cliError(err error) error {
	var be *backend.Error
	if errors.As(err, &be) || errors.Is(err, backend.ErrNoFile) || errors.Is(err, backend.ErrEmptyQuery) {
		return errors.New(backend.UserMessage(err))
	}
	return err
}

func runUpload(ctx context.Context, client *backend.Client, path string, out io.Writer) error {
	if path == "" {
		return cliError(backend.ErrNoFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	name := filepath.Base(path)
	summary, err := spreadsheet.Inspect(name, data)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	receipt, err := client.UploadSpreadsheet(ctx, name, bytes.NewReader(data))
	if err != nil {
		return cliError(err)
	}

	fmt.Fprintf(out, "Uploaded %s (%s, %d rows)\n", name, summary.Format, summary.RowCount)
	if receipt != nil && receipt.Message != "" {
		fmt.Fprintln(out, receipt.Message)
	}
	return nil
}

func runQuery(ctx context.Context, client *backend.Client, text string, showSQL bool, out io.Writer) error {
	resp, err := client.Query(ctx, text)
	if err != nil {
		return cliError(err)
	}

	if showSQL {
		fmt.Fprintf(out, "-- %s\n\n", resp.SQL)
	}
	return printTable(out, resp.Result)
}

func runExport(ctx context.Context, client *backend.Client, text, path string, out io.Writer) error {
	resp, err := client.Query(ctx, text)
	if err != nil {
		return cliError(err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := spreadsheet.WriteResult(f, resp.Result, ""); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Fprintf(out, "Wrote %d rows to %s\n", resp.Result.RowCount(), path)
	return nil
}

// printTable writes rs as aligned columns with a dashed rule under the header.
func printTable(out io.Writer, rs *models.ResultSet) error {
	if rs.ColumnCount() == 0 {
		_, err := fmt.Fprintln(out, "(no columns)")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(rs.Columns, "\t"))

	rule := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		rule[i] = strings.Repeat("-", max(len(c), 3))
	}
	fmt.Fprintln(tw, strings.Join(rule, "\t"))

	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = web.FormatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "(%d rows)\n", rs.RowCount())
	return err
}
