package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/engagic/engagic/civic"
	"github.com/engagic/engagic/pdf"
)

// Store is the slice of the database the analyzer needs.
type Store interface {
	GetCachedSummary(packet civic.PacketURL) (*civic.CacheEntry, *civic.Meeting, error)
	UpdateMeetingSummary(id, summary, method string, seconds float64, participation *civic.Participation, topics []string) error
	CompleteMeetingProcessing(meetingID string, packet civic.PacketURL, summary, method string, seconds float64, participation *civic.Participation, topics []string, contentHash string) error
	MarkMeetingProcessing(id string, status civic.ProcessingStatus) error
}

// Extractor turns a packet URL into text.
type Extractor interface {
	ExtractFromURL(ctx context.Context, url string) *pdf.Result
}

// Summarizer turns agenda text into a markdown summary.
type Summarizer interface {
	Available() bool
	SummarizeMeeting(ctx context.Context, text string) (summary, method string, err error)
}

// Result is the outcome of analyzing one meeting.
type Result struct {
	Success        bool                 `json:"success"`
	Summary        string               `json:"summary,omitempty"`
	Method         string               `json:"method,omitempty"`
	ProcessingTime float64              `json:"processing_time"`
	Cached         bool                 `json:"cached"`
	Participation  *civic.Participation `json:"participation,omitempty"`
}

// Analyzer is the single-meeting processing glue.
type Analyzer struct {
	store     Store
	extractor Extractor
	llm       Summarizer
	logger    *slog.Logger
}

// NewAnalyzer wires the analyzer.
func NewAnalyzer(store Store, extractor Extractor, llm Summarizer, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: store, extractor: extractor, llm: llm, logger: logger}
}

// AnalyzeMeeting processes one meeting's packet end to end: cache check,
// extraction, participation parsing, summarization, persistence. Extraction
// and summarization failures return an error; the queue worker owns retries.
func (a *Analyzer) AnalyzeMeeting(ctx context.Context, m *civic.Meeting) (*Result, error) {
	if m.PacketURL.IsZero() {
		return nil, fmt.Errorf("meeting %s has no packet url", m.ID)
	}

	if entry, cached, err := a.store.GetCachedSummary(m.PacketURL); err == nil && cached != nil && cached.Summary != "" {
		a.logger.Info("cache hit for packet",
			"meeting_id", m.ID, "hit_count", entry.CacheHitCount, "method", entry.ProcessingMethod)
		if cached.ID != m.ID {
			if err := a.store.UpdateMeetingSummary(m.ID, cached.Summary, entry.ProcessingMethod, entry.ProcessingTime, cached.Participation, cached.Topics); err != nil {
				return nil, fmt.Errorf("failed to apply cached summary: %w", err)
			}
		}
		return &Result{
			Success:        true,
			Summary:        cached.Summary,
			Method:         entry.ProcessingMethod,
			ProcessingTime: entry.ProcessingTime,
			Cached:         true,
			Participation:  cached.Participation,
		}, nil
	}

	if !a.llm.Available() {
		return nil, fmt.Errorf("summarizer not configured")
	}

	start := time.Now()
	if err := a.store.MarkMeetingProcessing(m.ID, civic.ProcessingInProgress); err != nil {
		a.logger.Warn("failed to mark meeting processing", "meeting_id", m.ID, "error", err)
	}

	text, extractMethod, err := a.extractText(ctx, m)
	if err != nil {
		return nil, err
	}

	participation := ParseParticipation(text)

	summary, model, err := a.llm.SummarizeMeeting(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize meeting %s: %w", m.ID, err)
	}

	elapsed := time.Since(start).Seconds()
	method := extractMethod + "+" + model
	hash := contentHash(text)

	if err := a.store.CompleteMeetingProcessing(m.ID, m.PacketURL, summary, method, elapsed, participation, nil, hash); err != nil {
		return nil, fmt.Errorf("failed to persist analysis for %s: %w", m.ID, err)
	}

	a.logger.Info("meeting analyzed",
		"meeting_id", m.ID, "method", method, "seconds", elapsed, "chars", len(text))
	return &Result{
		Success:        true,
		Summary:        summary,
		Method:         method,
		ProcessingTime: elapsed,
		Participation:  participation,
	}, nil
}

// extractText pulls text from every URL in the packet, in order, and
// validates the combined result.
func (a *Analyzer) extractText(ctx context.Context, m *civic.Meeting) (string, string, error) {
	var parts []string
	method := "primary"
	for _, url := range m.PacketURL.URLs {
		res := a.extractor.ExtractFromURL(ctx, url)
		if !res.Success {
			return "", "", fmt.Errorf("extraction failed for %s: %s", url, res.Error)
		}
		parts = append(parts, res.Text)
		if res.Method != "primary" {
			method = res.Method
		}
	}

	text := pdf.Normalize(strings.Join(parts, "\n\n"))
	if !pdf.ValidateText(text) {
		return "", "", fmt.Errorf("extracted text for meeting %s failed quality validation", m.ID)
	}
	return text, method, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}
