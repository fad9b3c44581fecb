package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gifmotion/gifmotion/internal/ailink"
	"github.com/gifmotion/gifmotion/internal/observability"
	"github.com/gifmotion/gifmotion/internal/output"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a video from an image and a prompt",
	Long: `Submit one image-to-video task and wait for it to finish.

--image accepts a local file path, an http(s) URL or a data:image/... URL.
The referer check and rate limit only apply to the HTTP server.`,
	Example: `  gifmotion generate --image ./cat.png --prompt "the cat slowly turns its head"
  gifmotion generate --image https://example.com/cat.jpg --prompt "zoom out" -o json`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringP("image", "i", "", "image file path, http(s) URL or data URL (required)")
	generateCmd.Flags().StringP("prompt", "p", "", "text prompt describing the motion (required)")
	generateCmd.Flags().StringP("output", "o", "table", "output format: table, json, yaml, markdown")
	generateCmd.Flags().String("model", "", "Runway model override")
	_ = generateCmd.MarkFlagRequired("image")
	_ = generateCmd.MarkFlagRequired("prompt")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	imageArg, _ := cmd.Flags().GetString("image")
	prompt, _ := cmd.Flags().GetString("prompt")
	formatArg, _ := cmd.Flags().GetString("output")
	modelOverride, _ := cmd.Flags().GetString("model")

	format, err := output.ParseFormat(formatArg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(imageArg) == "" || prompt == "" {
		return fmt.Errorf("both --image and --prompt are required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gen := newGenerator(cfg)
	if modelOverride != "" {
		gen.Model = strings.TrimSpace(modelOverride)
	}
	gen.Logger = observability.CLILogger

	image, err := imagePayload(gen.Images, imageArg)
	if err != nil {
		return &ailink.Error{Kind: ailink.KindInvalidImageFormat, Detail: err.Error(), Err: err}
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	observability.CLILogger.Info("Submitting generation",
		zap.String("model", gen.Model),
		zap.Duration("poll_budget", gen.Policy.Budget()))

	start := time.Now()
	result, genErr := gen.Generate(ctx, image, prompt)
	elapsed := time.Since(start)

	var report *output.Report
	if genErr != nil {
		report = output.FromError(genErr, elapsed)
	} else {
		report = output.FromResult(result, elapsed)
	}
	if err := printReport(cmd, format, report); err != nil {
		return err
	}
	return genErr
}

// imagePayload returns URLs and data URLs unchanged and reads anything else
// as a local file.
func imagePayload(resolver *ailink.ImageResolver, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	lower := strings.ToLower(arg)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return arg, nil
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("read image file: %w", err)
	}
	if resolver == nil {
		resolver = &ailink.ImageResolver{}
	}
	return resolver.FromBytes(data)
}

func printReport(cmd *cobra.Command, format output.Format, report *output.Report) error {
	rendered, err := output.NewFormatter(format).FormatReport(report)
	if err != nil {
		return err
	}
	if rendered == "" {
		return nil
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

// commandContext falls back to Background for commands run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
