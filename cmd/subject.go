package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"metricboard/metric"
)

var (
	subjectAddID       string
	subjectAddName     string
	subjectAddTeam     string
	subjectAddManager  string
	subjectAddInactive bool
)

var subjectCmd = &cobra.Command{
	Use:   "subject",
	Short: "Manage the subjects metric records belong to",
	Long: `Add and list subjects. Imports only accept rows whose subject column
matches the external id of an existing subject.`,
}

var subjectAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a subject",
	Example: `
  metricboard subject add --id 1001 --name "Ana Souza" --team "Suporte N1" --manager "Carla"
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openRuntime()
		if err != nil {
			return err
		}
		defer env.close()

		created, err := env.store.CreateSubject(cmd.Context(), metric.Subject{
			ExternalID: strings.TrimSpace(subjectAddID),
			Name:       strings.TrimSpace(subjectAddName),
			Team:       strings.TrimSpace(subjectAddTeam),
			Manager:    strings.TrimSpace(subjectAddManager),
			Active:     !subjectAddInactive,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Subject %q created with id %d\n", created.ExternalID, created.ID)
		return nil
	},
}

var subjectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subjects",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openRuntime()
		if err != nil {
			return err
		}
		defer env.close()

		subjects, err := env.store.ListSubjects(cmd.Context())
		if err != nil {
			return err
		}
		return printSubjects(os.Stdout, subjects)
	},
}

func printSubjects(w io.Writer, subjects []metric.Subject) error {
	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "EXTERNAL ID\tNAME\tTEAM\tMANAGER\tACTIVE")
	for _, s := range subjects {
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%t\n", s.ExternalID, s.Name, s.Team, s.Manager, s.Active)
	}
	return table.Flush()
}

func init() {
	rootCmd.AddCommand(subjectCmd)
	subjectCmd.AddCommand(subjectAddCmd, subjectListCmd)

	subjectAddCmd.Flags().StringVar(&subjectAddID, "id", "", "External id (registration number, tax id, ...)")
	subjectAddCmd.Flags().StringVar(&subjectAddName, "name", "", "Display name")
	subjectAddCmd.Flags().StringVar(&subjectAddTeam, "team", "", "Team")
	subjectAddCmd.Flags().StringVar(&subjectAddManager, "manager", "", "Manager")
	subjectAddCmd.Flags().BoolVar(&subjectAddInactive, "inactive", false, "Register the subject as inactive")

	_ = subjectAddCmd.MarkFlagRequired("id")
}
