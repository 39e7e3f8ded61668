package voice

import "strings"

// TriggerKind classifies the outcome of matching a transcript.
type TriggerKind int

const (
	// TriggerNone means the transcript is ignored.
	TriggerNone TriggerKind = iota
	// TriggerActivate means the transcript should start a response.
	TriggerActivate
	// TriggerStop means cancel whatever is in flight or playing. Stop
	// takes priority over activation in every mode.
	TriggerStop
)

// MatchResult is the trigger decision for one transcript.
type MatchResult struct {
	Kind    TriggerKind
	Cleaned string
}

// Matcher decides whether a transcript activates the bridge. Activation
// phrases are normalized and tokenized once at construction; matching is
// case-insensitive and word-bounded, so "bot" never fires inside "robot".
type Matcher struct {
	phrases [][]string
	stop    []string
}

// NewMatcher builds a matcher from configured activation phrases and the
// stop phrase. Phrases may contain multiple words.
func NewMatcher(phrases []string, stopPhrase string) *Matcher {
	m := &Matcher{}
	for _, p := range phrases {
		if toks := tokenize(p); len(toks) > 0 {
			m.phrases = append(m.phrases, toks)
		}
	}
	m.stop = tokenize(stopPhrase)
	return m
}

// Match inspects a transcript under the session mode. In free mode every
// non-empty transcript activates; otherwise a whole-word occurrence of an
// activation phrase is required and is stripped from the returned text.
func (m *Matcher) Match(text string, mode Mode) MatchResult {
	words := strings.Fields(text)
	if len(words) == 0 {
		return MatchResult{Kind: TriggerNone}
	}
	norm := make([]string, len(words))
	for i, w := range words {
		norm[i] = normalizeToken(w)
	}

	// A transcript that is exactly the stop phrase signals cancellation,
	// even mid-response and regardless of mode.
	if len(m.stop) > 0 && tokensEqual(nonEmpty(norm), m.stop) {
		return MatchResult{Kind: TriggerStop}
	}

	if mode == ModeFree {
		return MatchResult{Kind: TriggerActivate, Cleaned: trimEdges(strings.Join(words, " "))}
	}

	for _, phrase := range m.phrases {
		if idx := findPhrase(norm, phrase); idx >= 0 {
			rest := append(append([]string{}, words[:idx]...), words[idx+len(phrase):]...)
			return MatchResult{Kind: TriggerActivate, Cleaned: trimEdges(strings.Join(rest, " "))}
		}
	}
	return MatchResult{Kind: TriggerNone}
}

// findPhrase locates the first whole-word occurrence of phrase inside the
// normalized token list, returning the start index or -1.
func findPhrase(norm []string, phrase []string) int {
	for i := 0; i+len(phrase) <= len(norm); i++ {
		match := true
		for j := range phrase {
			if norm[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

const edgePunct = " \t,.!?;:-\"'`~"

func normalizeToken(tok string) string {
	return strings.Trim(strings.ToLower(tok), edgePunct)
}

func tokenize(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		if t := normalizeToken(w); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func nonEmpty(toks []string) []string {
	out := toks[:0:0]
	for _, t := range toks {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func tokensEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func trimEdges(s string) string {
	return strings.Trim(s, edgePunct)
}
