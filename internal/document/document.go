// Package document handles input documents: type detection, multi-page PDF
// splitting, and page-text assembly for the OCR stage.
package document

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageBreakMarker separates per-page OCR texts when a multi-page document is
// concatenated for extraction.
const PageBreakMarker = "\n\n--- Page Break ---\n\n"

// Page is one OCR input unit: a single-page file on disk.
type Page struct {
	Path  string
	Index int
}

// imageExtensions lists the accepted single-page input formats.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
}

// IsPDF reports whether the path points at a PDF document.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// IsSupported reports whether the file extension is a processable document
// or image type.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pdf" || imageExtensions[ext]
}

// Pages prepares the per-page OCR inputs for a document. Images yield a
// single page; PDFs are split into one file per page under workDir. The
// returned pages are ordered by page index.
func Pages(path, workDir string) ([]Page, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("document not found: %w", err)
	}

	if !IsPDF(path) {
		return []Page{{Path: path, Index: 0}}, nil
	}

	return splitPDF(path, workDir)
}

// splitPDF optimizes and splits a PDF into single-page files. pdfcpu names
// split output <base>_<n>.pdf with n starting at 1.
func splitPDF(path, workDir string) ([]Page, error) {
	optimized := filepath.Join(workDir, "optimized.pdf")

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(path, optimized, cfg); err != nil {
		return nil, fmt.Errorf("failed to optimize PDF: %w", err)
	}

	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	if err := api.SplitFile(optimized, workDir, 1, nil); err != nil {
		return nil, fmt.Errorf("failed to split PDF: %w", err)
	}

	base := strings.TrimSuffix(optimized, filepath.Ext(optimized))
	pages := make([]Page, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		pagePath := fmt.Sprintf("%s_%d.pdf", base, i)
		if _, err := os.Stat(pagePath); err != nil {
			return nil, fmt.Errorf("split page %d missing: %w", i, err)
		}
		pages = append(pages, Page{Path: pagePath, Index: i - 1})
	}

	return pages, nil
}

// PageImage returns the raster content of a single-page PDF as encoded
// image bytes. Scanned invoices carry the whole page as one embedded image
// XObject; when a page holds several, the largest is taken. Pages with no
// embedded image (vector or text-only PDFs) return an error.
func PageImage(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	pageImages, err := api.ExtractImagesRaw(f, nil, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to extract page images: %w", err)
	}

	var largest []byte
	for _, byObj := range pageImages {
		for _, img := range byObj {
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("read page image: %w", err)
			}
			if len(data) > len(largest) {
				largest = data
			}
		}
	}
	if len(largest) == 0 {
		return nil, fmt.Errorf("no embedded image in %s", filepath.Base(path))
	}
	return largest, nil
}

// JoinPageTexts concatenates per-page OCR texts with an explicit page-break
// marker, preserving page order.
func JoinPageTexts(texts []string) string {
	return strings.Join(texts, PageBreakMarker)
}
