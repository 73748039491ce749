package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"metricboard/importer"
	"metricboard/metric"
	"metricboard/storage"
)

var (
	importInputs []string
	importFormat string
	importMetric string
	importActor  string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import daily metric values from Excel/CSV spreadsheets",
	Long: `Read spreadsheets holding one metric type and upsert one record per row.

The header row must name a subject column (subject_id, matricula, cpf, ...), a
date column (date, data, dia) and a value column (value, valor, tempo, ...).
Each file becomes one audited import batch. A row whose subject/date already has
a record for the metric type overwrites that record.

Rows that are incomplete or name an unknown subject are reported and skipped.
The command exits non-zero when any file had an invalid header, rejected rows
or a storage fault.`,
	Example: `
  # Import one workbook
  metricboard import -i ./tma-2024-03.xlsx --metric tma --actor alice

  # Import several CSV exports of the same metric type
  metricboard import -i ./ics-week1.csv -i ./ics-week2.csv --metric ics

  # Force the format of a file without a usual extension
  metricboard import -i ./export.txt --format csv --metric ics
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openRuntime()
		if err != nil {
			return err
		}
		defer env.close()

		ctx := cmd.Context()
		metricType, err := env.store.GetMetricTypeByCode(ctx, importMetric)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("unknown metric type %q (see: metricboard metric list)", importMetric)
			}
			return err
		}

		service := importer.NewService(env.store, importer.WithLogger(env.logger.Named("import")))
		failed := 0
		for _, path := range importInputs {
			result, err := importFile(ctx, service, metricType, path)
			if err != nil {
				return fmt.Errorf("import %s: %w", path, err)
			}
			printImportResult(os.Stdout, path, result)
			if !result.OK {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files were not imported cleanly", failed, len(importInputs))
		}
		return nil
	},
}

func importFile(ctx context.Context, service *importer.Service, t metric.Type, path string) (importer.Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return importer.Result{}, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	return service.Import(ctx, t, importer.Source{
		Filename: path,
		Format:   strings.TrimSpace(importFormat),
		Reader:   file,
	}, importActor)
}

func printImportResult(w io.Writer, path string, result importer.Result) {
	report := result.Report
	if report.Error != "" && result.BatchID == 0 {
		color.New(color.FgRed, color.Bold).Fprintf(w, "%s: %s\n", path, report.Error)
		fmt.Fprintf(w, "  found columns: %s\n", strings.Join(report.Found, ", "))
		for _, field := range []string{importer.FieldSubjectID, importer.FieldDate, importer.FieldValue} {
			fmt.Fprintf(w, "  %s accepts: %s\n", field, strings.Join(report.Expected[field], ", "))
		}
		return
	}

	status := color.New(color.FgGreen)
	if !result.OK {
		status = color.New(color.FgYellow)
	}
	status.Fprintf(w, "%s: batch %d, imported %d (created %d, updated %d), rejected %d\n",
		path, result.BatchID, report.Imported, report.Created, report.Updated, len(report.Errors))
	for _, rowErr := range report.Errors {
		fmt.Fprintf(w, "  row %d: %s\n", rowErr.Row, rowErr.Reason)
	}
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringArrayVarP(&importInputs, "input", "i", nil, "Input file path (repeatable)")
	importCmd.Flags().StringVarP(&importFormat, "format", "f", "", "Input format: csv|excel (optional, inferred from extension when omitted)")
	importCmd.Flags().StringVarP(&importMetric, "metric", "m", "", "Code of the metric type the files hold")
	importCmd.Flags().StringVar(&importActor, "actor", defaultImportActor(), "Name recorded as the importing actor")

	_ = importCmd.MarkFlagRequired("input")
	_ = importCmd.MarkFlagRequired("metric")
}

func defaultImportActor() string {
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "cli"
}
