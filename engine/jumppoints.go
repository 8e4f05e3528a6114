package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gitmonke/go-video-summary/adapters"
)

const jumpPointsSeparator = "\n\n[JUMP_POINTS]"

// composeModelUsed formats the modelUsed string persisted alongside every
// completed summary.
func composeModelUsed(whisperModel, llmModel string) string {
	return fmt.Sprintf("whisper-%s+%s", whisperModel, llmModel)
}

// appendJumpPoints serializes points as the literal suffix format readers
// must detect and strip. Returns transcript unchanged if there are no
// points to append.
func appendJumpPoints(transcript string, points []adapters.JumpPoint) (string, error) {
	if len(points) == 0 {
		return transcript, nil
	}
	encoded, err := json.Marshal(points)
	if err != nil {
		return "", fmt.Errorf("engine: marshal jump points: %w", err)
	}
	return transcript + jumpPointsSeparator + string(encoded), nil
}

// splitTranscript separates a persisted transcript from its trailing jump
// points suffix, if present. Readers must go through this rather than
// presenting the raw stored column.
func splitTranscript(stored string) (transcript string, points []adapters.JumpPoint) {
	idx := strings.Index(stored, jumpPointsSeparator)
	if idx < 0 {
		return stored, nil
	}
	transcript = stored[:idx]
	raw := stored[idx+len(jumpPointsSeparator):]

	var parsed []adapters.JumpPoint
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return transcript, nil
	}
	return transcript, parsed
}

var jumpPointKeywords = []string{
	"intro", "overview", "setup", "install", "configure", "demo", "example",
	"concept", "definition", "recap", "summary", "conclusion",
	"best practice", "tip", "troubleshoot", "issue",
}

type jumpPointCandidate struct {
	seconds int
	snippet string
	score   float64
}

// computeJumpPointsHeuristic is the Coordinator's own fallback, applied
// when the Summarizer's curated list comes back empty: ~20s/220-char
// windows, keyword + length scoring, top 20 by score re-sorted by time,
// downsampled to at most 8 via a len/8 stride.
func computeJumpPointsHeuristic(segments []adapters.Segment) []adapters.JumpPoint {
	var candidates []jumpPointCandidate
	windowStart := 0.0
	var b strings.Builder

	flush := func(startSeconds float64) {
		snippet := strings.TrimSpace(b.String())
		if snippet == "" {
			return
		}
		candidates = append(candidates, jumpPointCandidate{
			seconds: int(startSeconds + 0.5),
			snippet: snippet,
		})
		b.Reset()
	}

	for _, seg := range segments {
		if b.Len() == 0 {
			windowStart = seg.Start
		}
		b.WriteString(seg.Text)
		b.WriteString(" ")
		if seg.End-windowStart >= 20 || b.Len() >= 220 {
			flush(windowStart)
		}
	}
	flush(windowStart)

	if len(candidates) == 0 {
		return nil
	}

	for i := range candidates {
		lower := strings.ToLower(candidates[i].snippet)
		score := 0.0
		for _, kw := range jumpPointKeywords {
			if strings.Contains(lower, kw) {
				score += 2
				break
			}
		}
		bonus := float64(len(candidates[i].snippet)) / 200.0
		if bonus > 1.0 {
			bonus = 1.0
		}
		candidates[i].score = score + bonus
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	top := candidates
	if len(top) > 20 {
		top = top[:20]
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].seconds < top[j].seconds })

	step := len(top) / 8
	if step < 1 {
		step = 1
	}
	var downsampled []jumpPointCandidate
	for i := 0; i < len(top); i += step {
		downsampled = append(downsampled, top[i])
		if len(downsampled) == 8 {
			break
		}
	}

	points := make([]adapters.JumpPoint, 0, len(downsampled))
	for _, c := range downsampled {
		points = append(points, adapters.JumpPoint{
			Seconds: c.seconds,
			Title:   firstSentence(c.snippet, 100),
		})
	}
	return points
}

func firstSentence(s string, maxLen int) string {
	cut := len(s)
	for _, terminator := range []string{". ", "! ", "? "} {
		if idx := strings.Index(s, terminator); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	title := strings.TrimSpace(s[:cut])
	if len(title) > maxLen {
		title = strings.TrimSpace(title[:maxLen])
	}
	return title
}
