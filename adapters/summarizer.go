package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const truncationMarker = "\n\n[... content truncated ...]\n\n"

// Summarizer calls Ollama's OpenAI-compatible chat-completions endpoint to
// turn a transcript into a structured summary, and separately into a list
// of navigable jump points.
type Summarizer struct {
	client       *openai.Client
	httpClient   *http.Client
	baseURL      string
	model        string
	maxChars     int
	promptBudget int
}

func NewSummarizer(baseURL, model string, maxChars, promptBudget int) *Summarizer {
	cfg := openai.DefaultConfig("ollama")
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
	}
	if model == "" {
		model = "llama3.2:13b"
	}
	return &Summarizer{
		client:       openai.NewClientWithConfig(cfg),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		model:        model,
		maxChars:     maxChars,
		promptBudget: promptBudget,
	}
}

// SummarizeResult is the tagged result of Summarize.
type SummarizeResult struct {
	Ok      bool
	Summary string
	Err     *AdapterError
}

// Summarize rejects empty or oversized transcripts up front, then prompts
// the model with a truncated transcript and post-processes the model's
// reply to strip preamble and normalize bullets.
func (s *Summarizer) Summarize(ctx context.Context, transcript, modelName string) SummarizeResult {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return SummarizeResult{Err: newError(KindInputError, "transcript is empty")}
	}
	if len(trimmed) > s.maxChars {
		return SummarizeResult{Err: newError(KindInputError, "transcript exceeds %d character limit", s.maxChars)}
	}

	model := modelName
	if model == "" {
		model = s.model
	}

	prompt := s.buildPrompt(trimmed)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.4,
		TopP:        0.9,
		MaxTokens:   3500,
		Stop:        []string{"</summary>", "\n\n---"},
	})
	if err != nil {
		return SummarizeResult{Err: newError(KindAdapterTransient, "summarization request failed: %v", err)}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return SummarizeResult{Err: newError(KindAdapterFatal, "model returned empty summary")}
	}

	return SummarizeResult{Ok: true, Summary: postProcessSummary(resp.Choices[0].Message.Content)}
}

// buildPrompt truncates the transcript to promptBudget characters, keeping
// the head and tail, and wraps it in the structured summary template.
func (s *Summarizer) buildPrompt(transcript string) string {
	limited := transcript
	if len(transcript) > s.promptBudget {
		half := s.promptBudget / 2
		limited = transcript[:half] + truncationMarker + transcript[len(transcript)-half:]
	}

	var b strings.Builder
	b.WriteString("Analyze the following video transcript and produce a structured summary using ONLY ASCII bullet points (\"- \"). Do not use markdown headers other than the bold section labels below.\n\n")
	b.WriteString("Cover, in this order:\n")
	b.WriteString("**KEY POINTS:**\n")
	b.WriteString("**DETAILED SUMMARY:**\n")
	b.WriteString("**KEY CONCEPTS, METHODOLOGIES, AND TECHNICAL DETAILS:**\n")
	b.WriteString("**TOOLS, FRAMEWORKS, OR TECHNOLOGIES REFERENCED:**\n")
	b.WriteString("**PREREQUISITES OR BACKGROUND KNOWLEDGE DISCUSSED:**\n")
	b.WriteString("**PRACTICAL APPLICATIONS AND REAL-WORLD USE CASES:**\n")
	b.WriteString("**STEP-BY-STEP PROCESSES OR WORKFLOWS MENTIONED:**\n\n")
	b.WriteString("Transcript:\n")
	b.WriteString(limited)
	b.WriteString("\n\n**KEY POINTS:**\n-")
	return b.String()
}

var unwantedPreamblePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)the summary of the transcript in the requested format:?\s*`),
	regexp.MustCompile(`(?i)here is the summary of the transcript:?\s*`),
	regexp.MustCompile(`(?i)here's the summary:?\s*`),
	regexp.MustCompile(`(?i)summary of the transcript:?\s*`),
	regexp.MustCompile(`(?i)here is a comprehensive summary:?\s*`),
	regexp.MustCompile(`(?i)here's a comprehensive summary:?\s*`),
	regexp.MustCompile(`(?i)based on the transcript:?\s*`),
	regexp.MustCompile(`(?i)transcript summary:?\s*`),
}

var leadingPreambleLine = regexp.MustCompile(`(?mi)^(Here is|Here are|This is|The following|Below are).*?:`)
var dashBullet = regexp.MustCompile(`(?m)^[-*]\s*`)
var numberedBullet = regexp.MustCompile(`(?m)^\d+\.\s*`)
var sentenceSplitter = regexp.MustCompile(`[.!?]+\s+`)
var tripleNewline = regexp.MustCompile(`\n\s*\n\s*\n`)
var repeatedSpaces = regexp.MustCompile(` +`)
var terminatorBeforeBullet = regexp.MustCompile(`([.!?])\s*\x{2022}`)

var stripPrefixes = []string{"Summary:", "Key Points:", "Here is", "Here are", "This video", "The video"}

// postProcessSummary strips model preamble and normalizes bullets into a
// consistent "• " form, mirroring the original service's cleanup pass
// exactly so downstream clients see the same shape regardless of model.
func postProcessSummary(raw string) string {
	summary := strings.TrimSpace(raw)

	for _, pattern := range unwantedPreamblePatterns {
		summary = pattern.ReplaceAllString(summary, "")
	}
	summary = strings.TrimSpace(summary)

	for _, prefix := range stripPrefixes {
		if strings.HasPrefix(summary, prefix) {
			summary = strings.TrimSpace(strings.TrimPrefix(summary, prefix))
		}
	}

	summary = leadingPreambleLine.ReplaceAllString(summary, "")
	summary = strings.TrimSpace(summary)

	summary = dashBullet.ReplaceAllString(summary, "• ")
	summary = numberedBullet.ReplaceAllString(summary, "• ")

	if !strings.Contains(summary, "•") && len(summary) > 100 {
		sentences := sentenceSplitter.Split(summary, -1)
		var bulleted []string
		for _, sentence := range sentences {
			trimmedSentence := strings.TrimSpace(sentence)
			if len(trimmedSentence) > 20 {
				bulleted = append(bulleted, "• "+trimmedSentence)
			}
		}
		if len(bulleted) > 0 {
			summary = strings.Join(bulleted, "\n")
		}
	}

	summary = tripleNewline.ReplaceAllString(summary, "\n\n")
	summary = repeatedSpaces.ReplaceAllString(summary, " ")
	summary = terminatorBeforeBullet.ReplaceAllString(summary, "$1\n•")

	return strings.TrimSpace(summary)
}

// JumpPointSegment mirrors the transcript segment shape the Transcriber
// adapter produces, scoped to what jump-point generation needs.
type JumpPointSegment struct {
	Start float64
	End   float64
	Text  string
}

// JumpPoint is one navigable moment in the video.
type JumpPoint struct {
	Seconds int    `json:"seconds"`
	Title   string `json:"title"`
}

// GenerateJumpPoints asks the model for a curated list of navigable moments.
// It returns a nil slice, not an error, on any request or parse failure so
// the Coordinator can fall back to its own heuristic transparently.
func (s *Summarizer) GenerateJumpPoints(ctx context.Context, segments []JumpPointSegment, modelName string, maxPoints int) []JumpPoint {
	model := modelName
	if model == "" {
		model = s.model
	}

	var b strings.Builder
	b.WriteString("Identify 6 to 12 significant moments spread across this video transcript. ")
	b.WriteString("Respond with ONLY a JSON array of objects shaped {\"seconds\": int, \"title\": string}, no prose.\n\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "%s — %s\n", formatTimestamp(seg.Start), strings.TrimSpace(seg.Text))
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
		Temperature: 0.2,
		TopP:        0.9,
		MaxTokens:   800,
	})
	if err != nil || len(resp.Choices) == 0 {
		return nil
	}

	content := resp.Choices[0].Message.Content
	start := strings.Index(content, "[")
	if start < 0 {
		return nil
	}

	// Decoding from the first '[' reads exactly one balanced JSON array and
	// ignores any prose the model appends after it.
	var raw []struct {
		Seconds int    `json:"seconds"`
		Title   string `json:"title"`
	}
	if err := json.NewDecoder(strings.NewReader(content[start:])).Decode(&raw); err != nil {
		return nil
	}

	points := make([]JumpPoint, 0, len(raw))
	for _, r := range raw {
		if r.Seconds < 0 || strings.TrimSpace(r.Title) == "" {
			continue
		}
		title := r.Title
		if len(title) > 100 {
			title = title[:100]
		}
		points = append(points, JumpPoint{Seconds: r.Seconds, Title: title})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Seconds < points[j].Seconds })

	if maxPoints > 0 && len(points) > maxPoints {
		step := len(points) / maxPoints
		if step < 1 {
			step = 1
		}
		var downsampled []JumpPoint
		for i := 0; i < len(points); i += step {
			downsampled = append(downsampled, points[i])
			if len(downsampled) == maxPoints {
				break
			}
		}
		points = downsampled
	}

	return points
}

func formatTimestamp(seconds float64) string {
	total := int(seconds)
	h, rem := total/3600, total%3600
	m, s := rem/60, rem%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// HealthResult reports whether the configured model endpoint is reachable
// and whether the requested model is already pulled.
type HealthResult struct {
	Healthy         bool
	ModelsAvailable []string
	ModelReady      bool
	Err             error
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Health checks Ollama's /api/tags endpoint.
func (s *Summarizer) Health(ctx context.Context) HealthResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", nil)
	if err != nil {
		return HealthResult{Err: err}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return HealthResult{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthResult{Err: fmt.Errorf("ollama returned status %d", resp.StatusCode)}
	}

	var parsed ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return HealthResult{Err: fmt.Errorf("parse ollama tags: %w", err)}
	}

	names := make([]string, 0, len(parsed.Models))
	ready := false
	for _, m := range parsed.Models {
		names = append(names, m.Name)
		if m.Name == s.model {
			ready = true
		}
	}

	return HealthResult{Healthy: true, ModelsAvailable: names, ModelReady: ready}
}

// PullResult is the tagged result of Pull.
type PullResult struct {
	Ok     bool
	Cached bool
	Err    error
}

// Pull asks Ollama to download modelName, skipping the request entirely if
// the model is already available.
func (s *Summarizer) Pull(ctx context.Context, modelName string) PullResult {
	health := s.Health(ctx)
	if health.Err != nil {
		return PullResult{Err: health.Err}
	}
	for _, name := range health.ModelsAvailable {
		if name == modelName {
			return PullResult{Ok: true, Cached: true}
		}
	}

	body, err := json.Marshal(map[string]any{"name": modelName, "stream": false})
	if err != nil {
		return PullResult{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/pull", strings.NewReader(string(body)))
	if err != nil {
		return PullResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	pullClient := &http.Client{Timeout: 600 * time.Second}
	resp, err := pullClient.Do(req)
	if err != nil {
		return PullResult{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PullResult{Err: fmt.Errorf("ollama pull returned status %d", resp.StatusCode)}
	}
	return PullResult{Ok: true}
}
