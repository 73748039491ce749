package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"metricboard/metric"
	"metricboard/storage"
)

var (
	batchListLimit int
	batchDeleteYes bool
)

var (
	batchPromptInput  io.Reader = os.Stdin
	batchPromptOutput io.Writer = os.Stdout
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect the import audit trail",
	Long: `Every import that passed header validation is recorded as a batch with its
actor, file name, status (pending, imported, failed) and report.`,
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List import batches, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openRuntime()
		if err != nil {
			return err
		}
		defer env.close()

		batches, err := env.store.ListBatches(cmd.Context(), batchListLimit)
		if err != nil {
			return err
		}
		return printBatches(os.Stdout, batches)
	},
}

var batchShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one batch with its report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBatchID(args[0])
		if err != nil {
			return err
		}
		env, err := openRuntime()
		if err != nil {
			return err
		}
		defer env.close()

		batch, err := env.store.GetBatch(cmd.Context(), id)
		if err != nil {
			return lookupError("batch", args[0], err)
		}
		records, err := env.store.CountBatchRecords(cmd.Context(), id)
		if err != nil {
			return err
		}
		printBatch(os.Stdout, batch, records)
		return nil
	},
}

var batchDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a batch that no longer owns records",
	Long: `Delete an import batch. Batches still owning metric records cannot be
deleted; the records keep pointing at the import that wrote them last.

Before deletion, an interactive prompt requires typing exactly "Y" unless --yes is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBatchID(args[0])
		if err != nil {
			return err
		}
		if !batchDeleteYes {
			confirmed, err := confirmPrompt(batchPromptInput, batchPromptOutput, fmt.Sprintf("Delete import batch %d?", id))
			if err != nil {
				return err
			}
			if !confirmed {
				return errors.New("delete aborted: confirmation was not 'Y'")
			}
		}

		env, err := openRuntime()
		if err != nil {
			return err
		}
		defer env.close()

		if err := env.store.DeleteBatch(cmd.Context(), id); err != nil {
			switch {
			case errors.Is(err, storage.ErrInUse):
				return fmt.Errorf("batch %d still owns records and cannot be deleted", id)
			default:
				return lookupError("batch", args[0], err)
			}
		}
		fmt.Printf("Deleted import batch %d\n", id)
		return nil
	},
}

func parseBatchID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid batch id %q", value)
	}
	return id, nil
}

func statusColor(status metric.BatchStatus) *color.Color {
	switch status {
	case metric.BatchImported:
		return color.New(color.FgGreen)
	case metric.BatchFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func printBatches(w io.Writer, batches []metric.Batch) error {
	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "ID\tCREATED\tACTOR\tMETRIC\tFILE\tSTATUS\tIMPORTED\tREJECTED")
	for _, b := range batches {
		fmt.Fprintf(table, "%d\t%s\t%s\t%d\t%s\t%s\t%d\t%d\n",
			b.ID, b.CreatedAt.Format("2006-01-02 15:04:05"), b.Actor, b.TypeID, b.OriginalFilename,
			b.Status, b.Report.Imported, len(b.Report.Errors))
	}
	return table.Flush()
}

func printBatch(w io.Writer, batch metric.Batch, records int) {
	fmt.Fprintf(w, "Batch %d (%s)\n", batch.ID, batch.Ref)
	fmt.Fprintf(w, "  status:   ")
	statusColor(batch.Status).Fprintln(w, batch.Status)
	fmt.Fprintf(w, "  actor:    %s\n", batch.Actor)
	fmt.Fprintf(w, "  file:     %s\n", batch.OriginalFilename)
	fmt.Fprintf(w, "  created:  %s\n", batch.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  imported: %d (created %d, updated %d)\n", batch.Report.Imported, batch.Report.Created, batch.Report.Updated)
	fmt.Fprintf(w, "  owns:     %d records\n", records)
	if batch.Report.Error != "" {
		color.New(color.FgRed).Fprintf(w, "  error:    %s\n", batch.Report.Error)
	}
	for _, rowErr := range batch.Report.Errors {
		fmt.Fprintf(w, "  row %d: %s\n", rowErr.Row, rowErr.Reason)
	}
}

func confirmPrompt(input io.Reader, output io.Writer, question string) (bool, error) {
	if input == nil {
		return false, errors.New("confirmation input is not available")
	}
	if output == nil {
		output = io.Discard
	}

	if _, err := fmt.Fprintf(output, "%s Type Y to confirm: ", question); err != nil {
		return false, fmt.Errorf("write confirmation prompt: %w", err)
	}

	line, err := bufio.NewReader(input).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	return strings.TrimSpace(line) == "Y", nil
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchListCmd, batchShowCmd, batchDeleteCmd)

	batchListCmd.Flags().IntVar(&batchListLimit, "limit", 50, "Maximum number of batches to list (0 for all)")
	batchDeleteCmd.Flags().BoolVarP(&batchDeleteYes, "yes", "y", false, "Skip the confirmation prompt")
}
