package search

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Stabilization tunables. Larger answers settle with fewer identical reads
// because each read already covers more rendered text.
const (
	largeAnswerLength  = 1000
	mediumAnswerLength = 300
	minAnswerLength    = 50

	stableReadsLarge  = 2
	stableReadsMedium = 3
	stableReadsSmall  = 4

	// Early exit for answers that end on sentence punctuation.
	sentenceExitMinLength = 100
	sentenceExitStable    = 2

	// A long streak of polls with no growth on an already substantial answer
	// means the page has stopped streaming.
	noGrowthEscapeStreak = 15
	noGrowthEscapeLength = 200

	maxPollIterations = 240

	finalReadAttempts = 3
	finalReadDelay    = 200 * time.Millisecond
)

// waitForCompleteAnswer polls the response container until the rendered text
// stabilizes, then returns it. On overall timeout it degrades to whatever
// partial text a final best-effort read yields.
func (e *Engine) waitForCompleteAnswer(ctx context.Context, selector string) (string, error) {
	deadline := e.now().Add(e.cfg.AnswerTimeout.Duration)

	var (
		lastText      string
		longestLength int
		stableReads   int
		noGrowth      int
	)

	for iteration := 0; iteration < maxPollIterations; iteration++ {
		if e.now().After(deadline) {
			break
		}

		text, err := e.readAnswer(ctx, selector)
		if err != nil {
			return "", err
		}

		if len(text) > longestLength {
			longestLength = len(text)
			noGrowth = 0
		} else {
			noGrowth++
		}

		if text != "" && text == lastText {
			stableReads++
		} else {
			stableReads = 0
		}
		lastText = text

		if isStable(text, stableReads) {
			return text, nil
		}
		if noGrowth >= noGrowthEscapeStreak && len(text) >= noGrowthEscapeLength {
			e.logger.Debug("answer stopped growing, accepting current text", "length", len(text))
			return text, nil
		}

		if err := e.sleep(ctx, e.cfg.PollInterval.Duration); err != nil {
			return "", err
		}
	}

	// Timed out or hit the iteration cap. Partial content is still more
	// useful than an error, so try a few final reads.
	for i := 0; i < finalReadAttempts; i++ {
		text, err := e.readAnswer(ctx, selector)
		if err == nil && strings.TrimSpace(text) != "" {
			e.logger.Warn("answer never stabilized, returning partial content", "length", len(text))
			return text, nil
		}
		_ = e.sleep(ctx, finalReadDelay)
	}
	return msgInterrupted, nil
}

// isStable applies the size-dependent stability rules.
func isStable(text string, stableReads int) bool {
	n := len(text)
	if n < minAnswerLength {
		return false
	}
	if endsWithSentence(text) && n >= sentenceExitMinLength && stableReads >= sentenceExitStable {
		return true
	}
	switch {
	case n > largeAnswerLength:
		return stableReads >= stableReadsLarge
	case n > mediumAnswerLength:
		return stableReads >= stableReadsMedium
	default:
		return stableReads >= stableReadsSmall
	}
}

func endsWithSentence(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// readAnswer evaluates the concatenated visible text of the response
// container in the page.
func (e *Engine) readAnswer(ctx context.Context, selector string) (string, error) {
	script := fmt.Sprintf(answerReadScript, selector)
	var text string
	if err := e.session.Auto().Evaluate(ctx, script, &text); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

const answerReadScript = `(() => {
	const nodes = document.querySelectorAll(%q);
	if (!nodes.length) return "";
	const last = nodes[nodes.length - 1];
	return (last.innerText || last.textContent || "").trim();
})()`

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
