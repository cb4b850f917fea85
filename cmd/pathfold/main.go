// Package main provides the pathfold CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pathfold",
		Short: "pathfold - answer path filters through index folding",
		Long: `pathfold filters records by chained field paths such as
address.city.name. When every hop of a path follows an indexed link, the
filter is answered by index lookups from the innermost hop outward instead of
evaluating the path on every record.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", getEnvStr("PATHFOLD_CONFIG", ""), "Config file (YAML or TOML)")
	flags.String("schema", "", "Schema file (overrides config)")
	flags.String("data", "", "Records file to load (overrides config)")
	flags.String("backend", "", "Index backend: memory, badger, sqlite")
	flags.String("data-dir", "", "Data directory for persistent backends")
	flags.String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")
	flags.Bool("no-fold", false, "Disable index folding (always scan)")
	flags.Bool("json", false, "Print JSON even on a terminal")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pathfold v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	explainCmd := &cobra.Command{
		Use:   "explain <path>",
		Short: "Show how a path filter would be answered",
		Args:  cobra.ExactArgs(1),
		RunE:  runExplain,
	}
	explainCmd.Flags().String("class", "", "Class the path starts at")
	explainCmd.MarkFlagRequired("class")
	rootCmd.AddCommand(explainCmd)

	queryCmd := &cobra.Command{
		Use:   "query <path>",
		Short: "List records whose path matches the given values",
		Long: `List records of --class whose path evaluates to one of the --value
or --id arguments. Values are parsed as YAML scalars, so 42 is a number and
"42" a string. --id values are record IDs, for paths ending at a link.`,
		Args: cobra.ExactArgs(1),
		RunE: runQuery,
	}
	queryCmd.Flags().String("class", "", "Class the path starts at")
	queryCmd.Flags().StringArray("value", nil, "Value to match (repeatable)")
	queryCmd.Flags().StringArray("id", nil, "Record ID to match (repeatable)")
	queryCmd.Flags().Bool("not", false, "Select records not matching")
	queryCmd.MarkFlagRequired("class")
	rootCmd.AddCommand(queryCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show record counts and index usage",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	})

	return rootCmd
}

func getEnvStr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
