package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestRunCompressOneShot(t *testing.T) {
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	in := filepath.Join(dir, "in.png")
	writeTestPNG(t, in, 60, 40)
	out := filepath.Join(dir, "out.jpg")

	quality = 70
	formatName = "jpeg"
	width = 30
	height = 0
	noLock = false
	outputPath = out
	verbose = true
	quiet = false
	t.Cleanup(func() {
		quality, formatName, width, height = 0, "", 0, 0
		outputPath, verbose = "", false
	})

	stdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	runErr := runCompress(in)

	w.Close()
	os.Stdout = stdout
	printed, _ := io.ReadAll(r)

	require.NoError(t, runErr)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	decoded, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	// Aspect lock couples the height to the requested width.
	assert.Equal(t, 30, decoded.Bounds().Dx())
	assert.Equal(t, 20, decoded.Bounds().Dy())

	// Verbose runs finish with the run statistics summary.
	assert.Contains(t, string(printed), "Size reduced by")
	assert.Contains(t, string(printed), "Statistics")
}
