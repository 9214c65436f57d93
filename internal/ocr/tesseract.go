package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/jonathan/invoice-pipeline/internal/document"
	"github.com/jonathan/invoice-pipeline/internal/types"
)

// TesseractProvider runs OCR through a local Tesseract engine via gosseract.
// A fresh client is created per call; gosseract clients are not safe for
// concurrent reuse.
type TesseractProvider struct {
	clientFactory func() *gosseract.Client
}

// NewTesseractProvider constructs the Tesseract-backed provider.
func NewTesseractProvider() *TesseractProvider {
	return &TesseractProvider{clientFactory: gosseract.NewClient}
}

// Name implements Provider.
func (p *TesseractProvider) Name() string { return "tesseract" }

// Extract implements Provider.
func (p *TesseractProvider) Extract(ctx context.Context, pagePath string, pageIndex int, params types.OcrParams) (types.OcrResult, error) {
	if err := ctx.Err(); err != nil {
		return types.OcrResult{}, err
	}

	c := p.clientFactory()
	defer c.Close()

	// Tesseract reads raster formats only. PDF pages are handed over as
	// their embedded page image; pages with none fail here and fall
	// through to the next provider in the chain.
	if document.IsPDF(pagePath) {
		data, err := document.PageImage(pagePath)
		if err != nil {
			return types.OcrResult{}, err
		}
		if err := c.SetImageFromBytes(data); err != nil {
			return types.OcrResult{}, fmt.Errorf("set image: %w", err)
		}
	} else if err := c.SetImage(pagePath); err != nil {
		return types.OcrResult{}, fmt.Errorf("set image: %w", err)
	}

	lang := params.Language
	if lang == "" {
		lang = "eng"
	}
	if err := c.SetLanguage(lang); err != nil {
		return types.OcrResult{}, fmt.Errorf("set language: %w", err)
	}
	if params.PageSegMod > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(params.PageSegMod)); err != nil {
			return types.OcrResult{}, fmt.Errorf("set page seg mode: %w", err)
		}
	}
	if params.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(params.DPI)); err != nil {
			return types.OcrResult{}, fmt.Errorf("set dpi: %w", err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return types.OcrResult{}, fmt.Errorf("recognize text: %w", err)
	}

	return types.OcrResult{
		Text:       strings.TrimSpace(text),
		Confidence: wordConfidence(c),
		Language:   lang,
		Provider:   p.Name(),
		PageIndex:  pageIndex,
	}, nil
}

// wordConfidence averages the per-word recognition confidence, normalized
// from Tesseract's 0-100 range into [0,1].
func wordConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
