// Package pdf turns packet URLs into plain text, falling back to OCR on
// pages whose embedded text is too sparse to trust.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"
)

const (
	// DefaultOCRThreshold is the minimum embedded-text length per page before
	// the page is rendered and OCRed instead.
	DefaultOCRThreshold = 100

	// DefaultOCRDPI is the raster resolution for OCR rendering.
	DefaultOCRDPI = 300

	downloadTimeout = 30 * time.Second
	maxDownloadSize = 100 << 20 // 100 MB hard cap
)

// Result is the outcome of one extraction.
type Result struct {
	Success        bool    `json:"success"`
	Text           string  `json:"text,omitempty"`
	Method         string  `json:"method,omitempty"`
	PageCount      int     `json:"page_count"`
	OCRPages       int     `json:"ocr_pages"`
	ExtractionTime float64 `json:"extraction_time"`
	Links          []Link  `json:"links,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// Link is a hyperlink found in the document.
type Link struct {
	Page int    `json:"page"`
	URL  string `json:"url"`
}

// Extractor downloads and extracts PDF packets.
type Extractor struct {
	client       *http.Client
	logger       *slog.Logger
	ocrThreshold int
	ocrDPI       int

	// ocr is swapped out in tests; the default renders through tesseract.
	ocr func(pngData []byte) (string, error)
}

// NewExtractor builds an extractor with the default thresholds.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client:       &http.Client{Timeout: downloadTimeout},
		logger:       logger,
		ocrThreshold: DefaultOCRThreshold,
		ocrDPI:       DefaultOCRDPI,
		ocr:          tesseractOCR,
	}
}

// ExtractFromURL downloads a PDF with size and timeout caps and extracts its
// text. Failures come back in the result, not as errors, so callers can
// persist them.
func (e *Extractor) ExtractFromURL(ctx context.Context, url string) *Result {
	start := time.Now()

	data, err := e.download(ctx, url)
	if err != nil {
		return &Result{Success: false, Error: err.Error(), ExtractionTime: time.Since(start).Seconds()}
	}

	res := e.ExtractFromBytes(data)
	res.ExtractionTime = time.Since(start).Seconds()
	return res
}

// download enforces the declared and actual size caps while streaming.
func (e *Extractor) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "engagic-crawler/1.0 (+https://engagic.org/crawler)")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download pdf: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pdf download returned %d", resp.StatusCode)
	}
	// Fail closed on declared oversize before reading anything.
	if resp.ContentLength > maxDownloadSize {
		return nil, fmt.Errorf("pdf declares %d bytes, over the %d byte cap", resp.ContentLength, maxDownloadSize)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf body: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("pdf body exceeds the %d byte cap", maxDownloadSize)
	}
	return data, nil
}

// ExtractFromBytes extracts text page by page, OCRing pages whose embedded
// text is below the threshold.
func (e *Extractor) ExtractFromBytes(data []byte) *Result {
	start := time.Now()

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("failed to open pdf: %v", err)}
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	var sb strings.Builder
	var links []Link
	ocrPages := 0

	for page := 0; page < pageCount; page++ {
		text, err := doc.Text(page)
		if err != nil {
			e.logger.Warn("failed to extract page text", "page", page, "error", err)
			text = ""
		}

		if len(strings.TrimSpace(text)) < e.ocrThreshold {
			if ocrText, err := e.ocrPage(doc, page); err == nil && len(strings.TrimSpace(ocrText)) > len(strings.TrimSpace(text)) {
				text = ocrText
				ocrPages++
			} else if err != nil {
				e.logger.Warn("ocr fallback failed", "page", page, "error", err)
			}
		}

		links = append(links, pageLinks(page+1, text)...)
		fmt.Fprintf(&sb, "--- PAGE %d ---\n%s\n", page+1, text)
	}

	method := "primary"
	if ocrPages > 0 {
		method = "primary+ocr"
	}

	return &Result{
		Success:        true,
		Text:           Normalize(sb.String()),
		Method:         method,
		PageCount:      pageCount,
		OCRPages:       ocrPages,
		Links:          links,
		ExtractionTime: time.Since(start).Seconds(),
	}
}

var linkPattern = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)

// pageLinks scans a page's text for absolute URLs. Agenda packets embed their
// references as printed text, so a text scan catches what matters; trailing
// sentence punctuation is trimmed and per-page duplicates collapse.
func pageLinks(page int, text string) []Link {
	var links []Link
	seen := make(map[string]bool)
	for _, raw := range linkPattern.FindAllString(text, -1) {
		url := strings.TrimRight(raw, ".,;:")
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		links = append(links, Link{Page: page, URL: url})
	}
	return links
}

// ocrPage renders a page to a raster image and runs it through OCR.
func (e *Extractor) ocrPage(doc *fitz.Document, page int) (string, error) {
	img, err := doc.ImageDPI(page, float64(e.ocrDPI))
	if err != nil {
		return "", fmt.Errorf("failed to render page %d: %w", page, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode page image: %w", err)
	}
	return e.ocr(buf.Bytes())
}

func tesseractOCR(pngData []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetImageFromBytes(pngData); err != nil {
		return "", fmt.Errorf("failed to load image for ocr: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr failed: %w", err)
	}
	return text, nil
}
