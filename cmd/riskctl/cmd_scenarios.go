package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/aristath/riskboard/internal/modules/stress"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var scenariosFile string

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the stress scenario library",
	Long: `Load and validate the stress scenario library. With --file the given YAML
document is validated instead of the built-in library.

Examples:
  riskctl scenarios
  riskctl scenarios --file scenarios.yaml --format yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		library, err := stress.LoadLibrary(scenariosFile)
		if err != nil {
			return err
		}
		return writeScenarios(cmd.OutOrStdout(), library.List())
	},
}

func init() {
	rootCmd.AddCommand(scenariosCmd)
	scenariosCmd.Flags().StringVar(&scenariosFile, "file", "", "Scenario YAML file, defaults to the built-in library")
}

func writeScenarios(w io.Writer, scenarios []stress.Scenario) error {
	switch outputFormat {
	case "yaml":
		return yaml.NewEncoder(w).Encode(scenarios)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(scenarios)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tCATEGORY\tSHOCKS\n")
	for _, sc := range scenarios {
		shocks := make([]string, 0, len(sc.Shocks))
		for f, v := range sc.Shocks {
			shocks = append(shocks, fmt.Sprintf("%s=%+.2f", f, v))
		}
		sort.Strings(shocks)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", sc.ID, sc.Category, strings.Join(shocks, " "))
	}
	return tw.Flush()
}
