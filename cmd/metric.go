package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"metricboard/metric"
)

var (
	metricAddName       string
	metricAddCode       string
	metricAddUnit       string
	metricAddTarget     string
	metricAddBetterWhen string
)

var metricCmd = &cobra.Command{
	Use:   "metric",
	Short: "Manage the catalog of metric types",
	Long: `Add, list and delete metric types.

A metric type whose code, name or unit marks it as a duration (tempo, duração,
sla, hh:mm, min, h, ...) stores values in minutes and is displayed as HH:MM:SS.`,
}

var metricAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a metric type",
	Example: `
  # Time metric where lower is better
  metricboard metric add --code tma --name "Tempo médio de atendimento" --unit min --target 10 --better-when lower

  # Percentage without target
  metricboard metric add --code ics --name "ICS" --unit %
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		betterWhen, err := metric.ParseBetterWhen(metricAddBetterWhen)
		if err != nil {
			return err
		}
		target, err := parseOptionalFloat(metricAddTarget)
		if err != nil {
			return fmt.Errorf("invalid --target: %w", err)
		}

		env, err := openRuntime()
		if err != nil {
			return err
		}
		defer env.close()

		created, err := env.store.CreateMetricType(cmd.Context(), metric.Type{
			Name:       strings.TrimSpace(metricAddName),
			Code:       strings.TrimSpace(metricAddCode),
			Unit:       strings.TrimSpace(metricAddUnit),
			Target:     target,
			BetterWhen: betterWhen,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Metric type %q created with id %d (time metric: %t)\n", created.Code, created.ID, metric.IsTimeMetric(created))
		return nil
	},
}

var metricListCmd = &cobra.Command{
	Use:   "list",
	Short: "List metric types",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openRuntime()
		if err != nil {
			return err
		}
		defer env.close()

		types, err := env.store.ListMetricTypes(cmd.Context())
		if err != nil {
			return err
		}
		return printMetricTypes(os.Stdout, types)
	},
}

var metricDeleteCmd = &cobra.Command{
	Use:   "delete CODE",
	Short: "Delete a metric type that has no batches or records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openRuntime()
		if err != nil {
			return err
		}
		defer env.close()

		metricType, err := env.store.GetMetricTypeByCode(cmd.Context(), args[0])
		if err != nil {
			return lookupError("metric type", args[0], err)
		}
		if err := env.store.DeleteMetricType(cmd.Context(), metricType.ID); err != nil {
			return err
		}
		fmt.Printf("Metric type %q deleted\n", metricType.Code)
		return nil
	},
}

func printMetricTypes(w io.Writer, types []metric.Type) error {
	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "ID\tCODE\tNAME\tUNIT\tTARGET\tBETTER\tTIME\tGROUP")
	for _, t := range types {
		target := "-"
		if t.Target != nil {
			target = strconv.FormatFloat(*t.Target, 'f', -1, 64)
			if metric.IsTimeMetric(t) {
				target = metric.FormatMinutes(*t.Target)
			}
		}
		fmt.Fprintf(table, "%d\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			t.ID, t.Code, t.Name, t.Unit, target, t.BetterWhen, metric.IsTimeMetric(t), metric.GroupOf(t))
	}
	return table.Flush()
}

func parseOptionalFloat(value string) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func init() {
	rootCmd.AddCommand(metricCmd)
	metricCmd.AddCommand(metricAddCmd, metricListCmd, metricDeleteCmd)

	metricAddCmd.Flags().StringVar(&metricAddCode, "code", "", "Unique code used by imports and the API")
	metricAddCmd.Flags().StringVar(&metricAddName, "name", "", "Display name")
	metricAddCmd.Flags().StringVar(&metricAddUnit, "unit", "", "Unit, e.g. %, min, h")
	metricAddCmd.Flags().StringVar(&metricAddTarget, "target", "", "Optional target value (minutes for time metrics)")
	metricAddCmd.Flags().StringVar(&metricAddBetterWhen, "better-when", "higher", "Direction of improvement: higher|lower")

	_ = metricAddCmd.MarkFlagRequired("code")
	_ = metricAddCmd.MarkFlagRequired("name")
}
