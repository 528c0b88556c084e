package pipeline

import (
	"regexp"
	"strings"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

const (
	chunkTargetMin = 500
	chunkTargetMax = 800
	chunkHardCap   = 1200
	// Fraction of a chunk's tokens carried into the next chunk.
	chunkOverlapRatio = 0.1
)

var (
	headingLine  = regexp.MustCompile(`(?m)^#{1,6}\s+.+$`)
	sentenceEnd  = regexp.MustCompile(`(?s)[^.!?\n]+[.!?\n]+|\S[^.!?\n]*$`)
	codeBoundary = regexp.MustCompile(`^(func |def |class |function |impl |fn |public |private |protected |static |interface |type \w+ (struct|interface))`)
)

// Piece is one produced chunk before persistence. Position is the index
// in the returned slice.
type Piece struct {
	Content    string
	TokenCount int
	Metadata   map[string]interface{}
}

// Chunker splits extracted document text into retrieval units. The
// strategy is picked from the extractor's structural hints.
type Chunker struct {
	tokens *TokenCounter
}

// NewChunker creates a Chunker using the given token counter.
func NewChunker(tokens *TokenCounter) *Chunker {
	return &Chunker{tokens: tokens}
}

// Chunk splits text according to hints. Returns ErrEmptyInput when the
// text is all whitespace, ErrChunkLimitExceeded when some span cannot be
// brought under the hard cap on any boundary.
func (c *Chunker) Chunk(text string, hints models.StructuralHints) ([]Piece, error) {
	if strings.TrimSpace(text) == "" {
		return nil, services.ErrEmptyInput
	}

	var segments []string
	var err error
	switch {
	case hints.HasHeadings:
		segments, err = c.headingSegments(text)
	case hints.CodeLanguage != "":
		segments, err = c.codeSegments(text)
	default:
		segments, err = c.semanticSegments(text)
	}
	if err != nil {
		return nil, err
	}

	pieces := make([]Piece, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		pieces = append(pieces, Piece{
			Content:    seg,
			TokenCount: c.tokens.Count(seg),
		})
	}
	if len(pieces) == 0 {
		return nil, services.ErrEmptyInput
	}
	return pieces, nil
}

// headingSegments splits at heading boundaries, keeping each heading
// with the body below it. Oversized sections fall through to the
// semantic splitter.
func (c *Chunker) headingSegments(text string) ([]string, error) {
	indexes := headingLine.FindAllStringIndex(text, -1)
	if len(indexes) == 0 {
		return c.semanticSegments(text)
	}

	var sections []string
	if indexes[0][0] > 0 {
		sections = append(sections, text[:indexes[0][0]])
	}
	for i, idx := range indexes {
		end := len(text)
		if i+1 < len(indexes) {
			end = indexes[i+1][0]
		}
		sections = append(sections, text[idx[0]:end])
	}

	var out []string
	for _, section := range sections {
		if strings.TrimSpace(section) == "" {
			continue
		}
		if c.tokens.Count(section) <= chunkHardCap {
			out = append(out, strings.TrimRight(section, "\n"))
			continue
		}
		sub, err := c.semanticSegments(section)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// codeSegments splits source files at top-level declaration boundaries
// and never inside a fenced block.
func (c *Chunker) codeSegments(text string) ([]string, error) {
	lines := strings.Split(text, "\n")

	var out []string
	var current []string
	currentTokens := 0
	inFence := false

	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		seg := strings.Join(current, "\n")
		if c.tokens.Count(seg) > chunkHardCap {
			sub, err := c.splitByLines(current)
			if err != nil {
				return err
			}
			out = append(out, sub...)
		} else {
			out = append(out, seg)
		}
		current = nil
		currentTokens = 0
		return nil
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		lineTokens := c.tokens.Estimate(line)

		atBoundary := !inFence && codeBoundary.MatchString(line)
		if atBoundary && currentTokens >= chunkTargetMin {
			if err := flush(); err != nil {
				return nil, err
			}
		} else if !inFence && currentTokens+lineTokens > chunkTargetMax && currentTokens > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}

		current = append(current, line)
		currentTokens += lineTokens
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// splitByLines is the last-resort splitter for code that has no usable
// declaration boundaries.
func (c *Chunker) splitByLines(lines []string) ([]string, error) {
	var out []string
	var current []string
	currentTokens := 0
	for _, line := range lines {
		lineTokens := c.tokens.Estimate(line)
		if lineTokens > chunkHardCap {
			words, err := c.splitByWords(line)
			if err != nil {
				return nil, err
			}
			if len(current) > 0 {
				out = append(out, strings.Join(current, "\n"))
				current, currentTokens = nil, 0
			}
			out = append(out, words...)
			continue
		}
		if currentTokens+lineTokens > chunkTargetMax && len(current) > 0 {
			out = append(out, strings.Join(current, "\n"))
			current, currentTokens = nil, 0
		}
		current = append(current, line)
		currentTokens += lineTokens
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, "\n"))
	}
	return out, nil
}

// semanticSegments accumulates paragraphs up to the target band, with
// sentence-level overlap carried between neighbours.
func (c *Chunker) semanticSegments(text string) ([]string, error) {
	paragraphs := splitParagraphs(text)

	var out []string
	var current []string
	currentTokens := 0
	overlapBudget := int(float64(chunkTargetMax) * chunkOverlapRatio)

	flush := func() {
		if len(current) == 0 {
			return
		}
		seg := strings.Join(current, "\n\n")
		out = append(out, seg)

		// Seed the next chunk with trailing sentences of this one.
		overlap := trailingSentences(seg, overlapBudget, c.tokens)
		current = nil
		currentTokens = 0
		if overlap != "" {
			current = append(current, overlap)
			currentTokens = c.tokens.Count(overlap)
		}
	}

	for _, para := range paragraphs {
		paraTokens := c.tokens.Count(para)
		if paraTokens > chunkHardCap {
			flush()
			// Drop any pure-overlap seed before handling the oversized
			// paragraph on its own.
			current, currentTokens = nil, 0
			sub, err := c.splitBySentences(para)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}

		if currentTokens+paraTokens > chunkTargetMax && currentTokens >= chunkTargetMin {
			flush()
		} else if currentTokens+paraTokens > chunkHardCap {
			flush()
		}

		current = append(current, para)
		currentTokens += paraTokens
	}
	if len(current) > 0 {
		// Skip a trailing chunk that is only the overlap seed.
		seg := strings.Join(current, "\n\n")
		if len(out) == 0 || !strings.HasSuffix(out[len(out)-1], seg) {
			out = append(out, seg)
		}
	}
	return out, nil
}

func (c *Chunker) splitBySentences(text string) ([]string, error) {
	sentences := sentenceEnd.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	}

	var out []string
	var current []string
	currentTokens := 0
	for _, sent := range sentences {
		sentTokens := c.tokens.Count(sent)
		if sentTokens > chunkHardCap {
			if len(current) > 0 {
				out = append(out, strings.Join(current, " "))
				current, currentTokens = nil, 0
			}
			words, err := c.splitByWords(sent)
			if err != nil {
				return nil, err
			}
			out = append(out, words...)
			continue
		}
		if currentTokens+sentTokens > chunkTargetMax && len(current) > 0 {
			out = append(out, strings.Join(current, " "))
			current, currentTokens = nil, 0
		}
		current = append(current, strings.TrimSpace(sent))
		currentTokens += sentTokens
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, " "))
	}
	return out, nil
}

func (c *Chunker) splitByWords(text string) ([]string, error) {
	words := strings.Fields(text)
	var out []string
	var current []string
	currentTokens := 0
	for _, word := range words {
		wordTokens := c.tokens.Count(word)
		if wordTokens > chunkHardCap {
			return nil, services.ErrChunkLimitExceeded
		}
		if currentTokens+wordTokens > chunkTargetMax && len(current) > 0 {
			out = append(out, strings.Join(current, " "))
			current, currentTokens = nil, 0
		}
		current = append(current, word)
		currentTokens += wordTokens
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, " "))
	}
	return out, nil
}

func splitParagraphs(text string) []string {
	raw := regexp.MustCompile(`\n\s*\n`).Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// trailingSentences returns the final sentences of text that fit within
// budget tokens.
func trailingSentences(text string, budget int, tokens *TokenCounter) string {
	if budget <= 0 {
		return ""
	}
	sentences := sentenceEnd.FindAllString(text, -1)
	var kept []string
	total := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		sent := strings.TrimSpace(sentences[i])
		count := tokens.Count(sent)
		if total+count > budget {
			break
		}
		kept = append([]string{sent}, kept...)
		total += count
	}
	return strings.Join(kept, " ")
}
