package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildFilename(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	require.Equal(t, "helmet_gpt-image-1.5_20260203T040506Z_02.png", buildFilename("gpt-image-1.5", at, 2, ".png"))
	require.Equal(t, "helmet_org_model_v1_20260203T040506Z_10.jpg", buildFilename("org/model:v1", at, 10, ".jpg"))
}

func TestPreprocessCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	var src bytes.Buffer
	require.NoError(t, png.Encode(&src, image.NewNRGBA(image.Rect(0, 0, 300, 150))))
	input := filepath.Join(dir, "face.png")
	require.NoError(t, os.WriteFile(input, src.Bytes(), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"preprocess", input, "--max-dim", "100"})
	require.NoError(t, rootCmd.Execute())

	written := filepath.Join(dir, "face-prepped.jpg")
	data, err := os.ReadFile(written)
	require.NoError(t, err)
	bounds, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 100, bounds.Width)
	require.Equal(t, 50, bounds.Height)
	require.True(t, strings.HasPrefix(out.String(), "Saved: "+written), out.String())
}
