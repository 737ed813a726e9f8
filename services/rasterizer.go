package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"regional-stats-chatbot/internal/logger"
)

// Rasterizer renders table and image-only pages to PNG so operators
// can verify reconstructed content against the original layout. The
// artifact path is deterministic, {document_base_name}/page_{n}.png,
// and a page is rendered at most once.
type Rasterizer struct {
	outputDir string
}

func NewRasterizer(outputDir string) *Rasterizer {
	return &Rasterizer{outputDir: outputDir}
}

// PagePath returns the artifact path for (document, page), relative to
// the rasterizer's output root. This is the value stored in fragment
// metadata.
func PagePath(baseName string, page int) string {
	return filepath.Join(baseName, fmt.Sprintf("page_%d.png", page))
}

func baseName(pdfPath string) string {
	name := filepath.Base(pdfPath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// CapturePage renders one page of the PDF and returns the stored
// relative path. Idempotent: an existing artifact is reused without
// re-rendering.
func (r *Rasterizer) CapturePage(ctx context.Context, pdfPath string, page int) (string, error) {
	base := baseName(pdfPath)
	relPath := PagePath(base, page)
	absPath := filepath.Join(r.outputDir, relPath)

	if _, err := os.Stat(absPath); err == nil {
		return relPath, nil
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}

	// Isolate the single page first; rendering the whole report for
	// every table page would be quadratic in document size.
	tmpDir, err := os.MkdirTemp("", "page-extract-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := api.ExtractPagesFile(pdfPath, tmpDir, []string{strconv.Itoa(page)}, nil); err != nil {
		return "", fmt.Errorf("extract page %d from %s: %w", page, pdfPath, err)
	}

	extracted, err := findExtractedPage(tmpDir)
	if err != nil {
		return "", err
	}

	png, err := renderPDFPage(ctx, extracted)
	if err != nil {
		return "", fmt.Errorf("render page %d of %s: %w", page, pdfPath, err)
	}

	if err := os.WriteFile(absPath, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	logger.Debug("page screenshot captured", "path", relPath)
	return relPath, nil
}

func findExtractedPage(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read extract dir: %w", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".pdf") {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("no extracted page found in %s", dir)
}

// renderPDFPage opens the single-page PDF in headless Chrome and
// screenshots the viewport.
func renderPDFPage(ctx context.Context, pdfPath string) ([]byte, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	renderCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()

	abs, err := filepath.Abs(pdfPath)
	if err != nil {
		return nil, err
	}

	var png []byte
	err = chromedp.Run(renderCtx,
		chromedp.EmulateViewport(1240, 1754),
		chromedp.Navigate("file://"+abs),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.CaptureScreenshot(&png),
	)
	if err != nil {
		return nil, err
	}
	return png, nil
}
