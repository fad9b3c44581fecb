package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/gifmotion/gifmotion/internal/output"
)

var taskCmd = &cobra.Command{
	Use:   "task <id>",
	Short: "Show the current state of a Runway task",
	Long:  "Fetch one task from Runway and print its status, outputs and failure reason. No polling is done.",
	Args:  cobra.ExactArgs(1),
	RunE:  runTask,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.Flags().StringP("output", "o", "table", "output format: table, json, yaml, markdown")
}

func runTask(cmd *cobra.Command, args []string) error {
	formatArg, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(formatArg)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	task, err := newRunwayClient(cfg).GetTask(commandContext(cmd), strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	return printReport(cmd, format, output.FromTask(task))
}
