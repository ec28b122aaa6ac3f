package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vbonduro/docustitch/internal/domain"
	"github.com/vbonduro/docustitch/internal/encoder"
	"github.com/vbonduro/docustitch/internal/generator"
	"github.com/vbonduro/docustitch/internal/service"
)

var generateFlags struct {
	url   string
	image string
	notes string
	out   string
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a Colab script from the terminal.",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generateFlags.url, "url", "u", "", "Documentation site URL (required)")
	generateCmd.Flags().StringVarP(&generateFlags.image, "image", "i", "", "Screenshot of the documentation page (required)")
	generateCmd.Flags().StringVarP(&generateFlags.notes, "notes", "n", "", "Extra instructions for the script")
	generateCmd.Flags().StringVarP(&generateFlags.out, "out", "o", "", "Write the script to this file instead of stdout")
	_ = generateCmd.MarkFlagRequired("url")
	_ = generateCmd.MarkFlagRequired("image")
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg, logger, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	data, err := os.ReadFile(generateFlags.image)
	if err != nil {
		return fmt.Errorf("failed to read screenshot: %w", err)
	}
	mimeType, ok := service.DetectImageMIME(data)
	if !ok {
		return service.ErrUnsupportedImage
	}

	payload := encoder.New(bytes.NewReader(data), mimeType, encoder.WithMaxDimension(cfg.ScreenshotMaxDimension))
	encoded, err := payload.Data()
	if err != nil {
		return err
	}

	result, err := newOrchestrator(cfg, logger).Generate(cmd.Context(), domain.GenerationRequest{
		EncodedImage: encoded,
		MimeType:     payload.MimeType(),
		TargetURL:    generateFlags.url,
		UserNotes:    generateFlags.notes,
	})
	if err != nil {
		var genErr *generator.Error
		if errors.As(err, &genErr) {
			return fmt.Errorf("%s (%s: %v)", genErr.Error(), genErr.Kind, genErr.Err)
		}
		return err
	}

	return writeResult(cmd.OutOrStdout(), result, generateFlags.out)
}

// writeResult prints the instructions and explanation to w. The script goes
// to outPath when set, otherwise to w ahead of the prose.
func writeResult(w io.Writer, result *domain.GeneratedResult, outPath string) error {
	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(result.Script), 0o644); err != nil {
			return fmt.Errorf("failed to write script: %w", err)
		}
		if _, err := fmt.Fprintf(w, "Script written to %s\n\n", outPath); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, "# colab_script.py\n%s\n\n", result.Script); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "## How to run it\n%s\n\n## How it works\n%s\n", result.Instructions, result.Explanation)
	return err
}
