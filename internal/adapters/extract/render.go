package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageRenderer produces an image of one PDF page for OCR.
type PageRenderer func(ctx context.Context, pdfCtx *model.Context, pdf []byte, pageNr int) ([]byte, error)

// RenderPage renders with pdftoppm when installed, otherwise returns the
// largest embedded image on the page.
func RenderPage(ctx context.Context, pdfCtx *model.Context, pdf []byte, pageNr int) ([]byte, error) {
	if _, err := exec.LookPath("pdftoppm"); err == nil {
		img, err := renderWithPdftoppm(ctx, pdf, pageNr)
		if err == nil {
			return img, nil
		}
	}
	return pageImage(pdfCtx, pageNr)
}

// renderWithPdftoppm renders a single page at 300 DPI using poppler-utils.
func renderWithPdftoppm(ctx context.Context, pdf []byte, pageNr int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "qforge-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	src := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp pdf: %w", err)
	}

	outputPrefix := filepath.Join(tmpDir, "page")
	page := strconv.Itoa(pageNr)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", page,
		"-l", page,
		"-r", "300",
		"-singlefile",
		src,
		outputPrefix,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	return os.ReadFile(outputPrefix + ".png")
}

// pageImage returns the largest image XObject on the page.
func pageImage(pdfCtx *model.Context, pageNr int) ([]byte, error) {
	images, err := pdfcpu.ExtractPageImages(pdfCtx, pageNr, false)
	if err != nil {
		return nil, fmt.Errorf("extract page images: %w", err)
	}
	if len(images) == 0 {
		return nil, errors.New("page has no images")
	}

	objNrs := make([]int, 0, len(images))
	for nr := range images {
		objNrs = append(objNrs, nr)
	}
	sort.Ints(objNrs)

	best := images[objNrs[0]]
	for _, nr := range objNrs[1:] {
		img := images[nr]
		if img.Width*img.Height > best.Width*best.Height {
			best = img
		}
	}
	return io.ReadAll(best)
}
