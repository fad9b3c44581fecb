package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gifmotion/gifmotion/internal/config"
	"github.com/gifmotion/gifmotion/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", config.AppName, versionInfo.Version)
		if !extended {
			return nil
		}

		info := handlers.CurrentVersion()
		fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
		fmt.Fprintf(out, "Built: %s\n", versionInfo.BuildDate)
		fmt.Fprintf(out, "Go: %s (%s)\n", info.App.GoVersion, info.Runtime.Platform)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Gofulmen: %s\n", info.Dependencies.Gofulmen)
		fmt.Fprintf(out, "Crucible: %s\n", info.Dependencies.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
