package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"metricboard/internal/timeutil"
	"metricboard/output"
	"metricboard/storage"
)

var (
	exportFormat  string
	exportMode    string
	exportOutput  string
	exportMetric  string
	exportSubject string
	exportFrom    string
	exportTo      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export metric records from SQLite to CSV/Excel",
	Long: `Export stored metric records joined with subject and metric type.

Modes:
- raw: one row per record; time metrics get an HH:MM:SS display column
- daily: per day and metric type aggregates (count, average, min, max, unmet)

Output format can be selected explicitly via --format or inferred from --output extension.`,
	Example: `
  # Export every record to CSV
  metricboard export --output ./records.csv

  # Export one metric type for March to Excel
  metricboard export --metric tma --from 2024-03-01 --to 2024-03-31 --output ./tma-march.xlsx

  # Export daily aggregates of one subject
  metricboard export --mode daily --subject 1001 --output ./daily.csv
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.TrimSpace(exportFormat)
		if format == "" {
			format = output.FormatForPath(exportOutput)
		}

		env, err := openRuntime()
		if err != nil {
			return err
		}
		defer env.close()

		ctx := cmd.Context()
		filter, err := exportFilter(exportFrom, exportTo)
		if err != nil {
			return err
		}
		if code := strings.TrimSpace(exportMetric); code != "" {
			metricType, err := env.store.GetMetricTypeByCode(ctx, code)
			if err != nil {
				return lookupError("metric type", code, err)
			}
			filter.TypeID = metricType.ID
		}
		if externalID := strings.TrimSpace(exportSubject); externalID != "" {
			subject, err := env.store.GetSubjectByExternalID(ctx, externalID)
			if err != nil {
				return lookupError("subject", externalID, err)
			}
			filter.SubjectID = subject.ID
		}

		records, err := env.store.ListRecordDetails(ctx, filter)
		if err != nil {
			return err
		}

		switch mode := strings.TrimSpace(strings.ToLower(exportMode)); mode {
		case "", "raw":
			writer, err := output.WriterForFormat(format)
			if err != nil {
				return err
			}
			if err := writer.Write(exportOutput, records); err != nil {
				return err
			}
			fmt.Printf("Export completed. Rows: %d, Mode: raw, Format: %s, File: %s\n", len(records), format, exportOutput)
		case "daily":
			summaries := output.BuildDailySummaries(records)
			if err := output.WriteDailySummaries(exportOutput, format, summaries); err != nil {
				return err
			}
			fmt.Printf("Export completed. Rows: %d, Mode: daily, Format: %s, File: %s\n", len(summaries), format, exportOutput)
		default:
			return fmt.Errorf("unsupported export mode: %s (supported: raw, daily)", exportMode)
		}
		return nil
	},
}

// exportFilter parses the optional --from/--to bounds (YYYY-MM-DD).
func exportFilter(from, to string) (storage.RecordFilter, error) {
	var filter storage.RecordFilter
	parse := func(flag, raw string) (*time.Time, error) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, nil
		}
		parsed, err := timeutil.ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --%s value %q (expected YYYY-MM-DD)", flag, raw)
		}
		return &parsed, nil
	}

	var err error
	if filter.From, err = parse("from", from); err != nil {
		return filter, err
	}
	if filter.To, err = parse("to", to); err != nil {
		return filter, err
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return filter, errors.New("invalid range: --from must be <= --to")
	}
	return filter, nil
}

func lookupError(kind, ref string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s %q not found", kind, ref)
	}
	return err
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportMode, "mode", "raw", "Export mode: raw|daily")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "Output format: csv|excel (optional, inferred from output extension)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path")
	exportCmd.Flags().StringVar(&exportMetric, "metric", "", "Only export records of this metric type code")
	exportCmd.Flags().StringVar(&exportSubject, "subject", "", "Only export records of this subject external id")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First date to export, format YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last date to export, format YYYY-MM-DD")

	_ = exportCmd.MarkFlagRequired("output")
}
