package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"helmetgen/internal/imageconv"
)

var (
	preprocessOut     string
	preprocessMaxDim  int
	preprocessQuality int
	preprocessFormat  string
)

var preprocessCmd = &cobra.Command{
	Use:   "preprocess <image>",
	Short: "Bound and re-encode a local image the way uploads are prepared",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreprocess,
}

func init() {
	preprocessCmd.Flags().StringVar(&preprocessOut, "out", "", "Output file (default <input>-prepped.<ext>)")
	preprocessCmd.Flags().IntVar(&preprocessMaxDim, "max-dim", 0, "Longest side in pixels (default PREPROCESS_MAX_DIM)")
	preprocessCmd.Flags().IntVar(&preprocessQuality, "quality", 0, "Lossy quality 1-100 (default PREPROCESS_QUALITY)")
	preprocessCmd.Flags().StringVar(&preprocessFormat, "format", "", "jpeg or webp (default PREPROCESS_FORMAT)")
	rootCmd.AddCommand(preprocessCmd)
}

func runPreprocess(cmd *cobra.Command, args []string) error {
	input := args[0]
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	opts := imageconv.Options{
		MaxDim:    cfg.PreprocessMaxDim,
		Quality:   cfg.PreprocessQuality,
		Format:    imageconv.ParseFormat(cfg.PreprocessFormat),
		MaxPixels: cfg.PreprocessMaxPixels,
	}
	if preprocessMaxDim > 0 {
		opts.MaxDim = preprocessMaxDim
	}
	if preprocessQuality > 0 {
		opts.Quality = preprocessQuality
	}
	if preprocessFormat != "" {
		opts.Format = imageconv.ParseFormat(preprocessFormat)
	}

	res, err := imageconv.Preprocess(data, opts)
	if err != nil {
		return err
	}

	out := preprocessOut
	if out == "" {
		out = strings.TrimSuffix(input, filepath.Ext(input)) + "-prepped" + res.Ext
	}
	if err := os.WriteFile(out, res.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved: %s (%s %dx%d, %d -> %d bytes)\n",
		out, res.SourceFormat, res.Width, res.Height, len(data), len(res.Data))
	return nil
}
