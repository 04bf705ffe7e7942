package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"helmetgen/internal/blob"
	"helmetgen/internal/imageconv"
	"helmetgen/internal/provider"
)

var (
	generateOut     string
	generateCount   int
	generateOverlay string
	generateRaw     bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <image>",
	Short: "Helmet a local image and write the results to a directory",
	Long: `Runs one edit against the provider without touching the database or
blob storage. The input is bounded and re-encoded first unless --raw is set.

Examples:
  helmetgen generate me.jpg
  helmetgen generate me.png -n 3 --out results
  helmetgen generate me.webp --raw --overlay assets/helmet.png`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateOut, "out", "output", "Output directory for generated images")
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", 1, "Number of variants (clamped to MAX_VARIANTS)")
	generateCmd.Flags().StringVar(&generateOverlay, "overlay", "", "Overlay image (overrides OVERLAY_PATH)")
	generateCmd.Flags().BoolVar(&generateRaw, "raw", false, "Send the input as-is instead of preprocessing it")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	input := args[0]
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if int64(len(data)) > cfg.MaxUploadBytes {
		return fmt.Errorf("%s is %d bytes, limit is %d", input, len(data), cfg.MaxUploadBytes)
	}

	client := provider.NewOpenAIClient(provider.OpenAIOptions{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.OpenAITimeout,
	})
	if err := client.CheckCredentials(); err != nil {
		return err
	}

	user := provider.ImageFile{
		Name:        filepath.Base(input),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}
	if !generateRaw {
		res, err := imageconv.Preprocess(data, imageconv.Options{
			MaxDim:    cfg.PreprocessMaxDim,
			Quality:   cfg.PreprocessQuality,
			Format:    imageconv.ParseFormat(cfg.PreprocessFormat),
			MaxPixels: cfg.PreprocessMaxPixels,
		})
		if err != nil {
			return err
		}
		user = provider.ImageFile{
			Name:        strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + res.Ext,
			ContentType: res.ContentType,
			Data:        res.Data,
		}
		log.Debug().Int("width", res.Width).Int("height", res.Height).Int("bytes", len(res.Data)).Msg("input preprocessed")
	}

	overlayPath := cfg.OverlayPath
	if generateOverlay != "" {
		overlayPath = generateOverlay
	}
	builder := provider.NewBuilder(cfg.ImageModel, cfg.ImageSize, cfg.MaxVariants, provider.NewOverlayCache(overlayPath))
	req, err := builder.Build(user, generateCount)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(generateOut, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Generating %d image(s) with %s\n", req.N, req.Model)
	images, err := client.Edit(cmd.Context(), req)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return errors.New("no image returned")
	}

	now := time.Now()
	for i, img := range images {
		ext := blob.ExtensionFor(http.DetectContentType(img))
		outPath := filepath.Join(generateOut, buildFilename(req.Model, now, i+1, ext))
		if err := os.WriteFile(outPath, img, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved: %s\n", outPath)
	}
	return nil
}

func buildFilename(model string, at time.Time, index int, ext string) string {
	safeModel := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(model)
	timestamp := at.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("helmet_%s_%s_%02d%s", safeModel, timestamp, index, ext)
}
