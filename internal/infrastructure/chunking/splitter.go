package chunking

import (
	"errors"
	"fmt"
	"sort"
	"unicode"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// Level is a set of separators tried together. A nil Level splits on every
// whitespace rune; an empty, non-nil Level splits into single characters.
type Level []string

var (
	ParagraphLevel  = Level{"\n\n"}
	SentenceLevel   = Level{". ", "! ", "? "}
	WhitespaceLevel Level
	CharacterLevel  = Level{}
)

// DefaultLevels are tried coarsest first.
var DefaultLevels = []Level{ParagraphLevel, SentenceLevel, WhitespaceLevel, CharacterLevel}

type Splitter struct {
	levels []Level
}

func NewSplitter(levels ...Level) *Splitter {
	if len(levels) == 0 {
		levels = DefaultLevels
	}
	return &Splitter{levels: levels}
}

// Split chunks text with the default separator levels.
func Split(text string, targetSize, overlap int) ([]string, error) {
	return NewSplitter().Split(text, domain.ChunkPolicy{TargetSize: targetSize, Overlap: overlap})
}

// Split cuts text into chunks of at most policy.TargetSize characters where
// consecutive chunks share exactly policy.Overlap characters. Removing the
// first Overlap characters of every chunk after the first and concatenating
// yields the input. A piece no level can split is emitted whole.
func (s *Splitter) Split(text string, policy domain.ChunkPolicy) ([]string, error) {
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}
	if len(runes) <= policy.TargetSize {
		return []string{text}, nil
	}

	boundaries := s.boundaries(runes, policy.TargetSize)
	spans := mergeSpans(boundaries, len(runes), policy, s.splitsCharacters())

	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		out = append(out, string(runes[sp.start:sp.end]))
	}
	return out, nil
}

// Offsets returns the rune offset at which each chunk begins.
func Offsets(chunks []string, overlap int) []int {
	offsets := make([]int, len(chunks))
	pos := 0
	for i, c := range chunks {
		offsets[i] = pos
		pos += len([]rune(c)) - overlap
	}
	return offsets
}

func validatePolicy(policy domain.ChunkPolicy) error {
	if policy.TargetSize <= 0 {
		return domain.WrapError(domain.ErrInvalidConfiguration, "chunk text",
			fmt.Errorf("target size must be positive, got %d", policy.TargetSize))
	}
	if policy.Overlap < 0 || policy.Overlap >= policy.TargetSize {
		return domain.WrapError(domain.ErrInvalidConfiguration, "chunk text",
			errors.New("overlap must satisfy 0 <= overlap < target size"))
	}
	return nil
}

type span struct {
	start int
	end   int
}

func (s *Splitter) splitsCharacters() bool {
	for _, l := range s.levels {
		if l != nil && len(l) == 0 {
			return true
		}
	}
	return false
}

// boundaries returns the sorted end offsets of the atomic pieces.
func (s *Splitter) boundaries(runes []rune, target int) []int {
	var out []int
	var walk func(start, end, level int)
	walk = func(start, end, level int) {
		if end-start <= target || level >= len(s.levels) {
			out = append(out, end)
			return
		}
		cuts := cutPoints(runes[start:end], s.levels[level])
		prev := start
		for _, c := range cuts {
			walk(prev, start+c, level+1)
			prev = start + c
		}
		if prev < end {
			walk(prev, end, level+1)
		}
	}
	walk(0, len(runes), 0)
	return out
}

// cutPoints returns offsets just after each separator occurrence, so every
// separator stays attached to the text before it.
func cutPoints(runes []rune, level Level) []int {
	var cuts []int
	switch {
	case level == nil:
		for i, r := range runes {
			if unicode.IsSpace(r) && i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
				cuts = append(cuts, i+1)
			}
		}
	case len(level) == 0:
		for i := 1; i < len(runes); i++ {
			cuts = append(cuts, i)
		}
	default:
		seps := make([][]rune, 0, len(level))
		for _, sep := range level {
			if sep != "" {
				seps = append(seps, []rune(sep))
			}
		}
		pos := 0
		for pos < len(runes) {
			matched := 0
			for _, sep := range seps {
				if hasRunePrefix(runes[pos:], sep) {
					matched = len(sep)
					break
				}
			}
			if matched == 0 {
				pos++
				continue
			}
			pos += matched
			if pos < len(runes) {
				cuts = append(cuts, pos)
			}
		}
	}
	return cuts
}

func hasRunePrefix(runes, prefix []rune) bool {
	if len(prefix) > len(runes) {
		return false
	}
	for i, r := range prefix {
		if runes[i] != r {
			return false
		}
	}
	return true
}

func mergeSpans(boundaries []int, total int, policy domain.ChunkPolicy, charCuts bool) []span {
	var spans []span
	start := 0
	for {
		end := largestBoundary(boundaries, start, start+policy.TargetSize)
		if end-start <= policy.Overlap {
			if charCuts {
				end = min(start+policy.TargetSize, total)
			} else {
				end = nextBoundaryPast(boundaries, start+policy.Overlap, total)
			}
		}
		spans = append(spans, span{start: start, end: end})
		if end >= total {
			return spans
		}
		start = end - policy.Overlap
	}
}

// largestBoundary finds the last boundary in (start, limit], or start when
// there is none.
func largestBoundary(boundaries []int, start, limit int) int {
	i := sort.SearchInts(boundaries, limit+1)
	if i == 0 {
		return start
	}
	b := boundaries[i-1]
	if b <= start {
		return start
	}
	return b
}

func nextBoundaryPast(boundaries []int, after, total int) int {
	i := sort.SearchInts(boundaries, after+1)
	if i >= len(boundaries) {
		return total
	}
	return boundaries[i]
}
