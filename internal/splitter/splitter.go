// Package splitter provides the two-level chunking primitives: a
// header-aware recursive splitter that produces parent segments and a
// fixed-size segmenter that cuts parents into embeddable child fragments.
//
// Both functions are pure. Every output segment is a contiguous substring
// of the input, so concatenating the output in order reproduces the input
// exactly -- no characters are lost, reordered, or rewritten.
package splitter

import (
	"strings"
	"unicode/utf8"
)

// headingLevels is the number of markdown heading levels the splitter
// descends through, coarsest first ("# " .. "#### ").
const headingLevels = 4

// SplitByHeadings splits text into ordered segments of at most maxLen
// runes where the document structure allows it. Segments are cut at
// heading lines, starting from level-1 headings and recursing into finer
// levels only for blocks that still exceed maxLen. A block with no finer
// structure left is emitted oversized rather than dropped.
func SplitByHeadings(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	if maxLen < 1 {
		maxLen = 1
	}
	return splitAtLevel(text, maxLen, 1)
}

func splitAtLevel(text string, maxLen, level int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}
	if level > headingLevels {
		// No finer structure to exploit; emit as-is.
		return []string{text}
	}

	cuts := headingOffsets(text, level)
	if len(cuts) == 0 {
		return splitAtLevel(text, maxLen, level+1)
	}

	// Piece boundaries: start of text, each heading line, end of text.
	bounds := make([]int, 0, len(cuts)+2)
	bounds = append(bounds, 0)
	bounds = append(bounds, cuts...)
	bounds = append(bounds, len(text))

	// Greedily re-accumulate consecutive pieces while the running rune
	// count stays within maxLen; oversized pieces are re-split at the
	// next finer level in place.
	var out []string
	accStart, accLen := 0, 0
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		n := utf8.RuneCountInString(text[start:end])

		if n > maxLen {
			if accLen > 0 {
				out = append(out, text[accStart:start])
				accLen = 0
			}
			out = append(out, splitAtLevel(text[start:end], maxLen, level+1)...)
			accStart = end
			continue
		}

		if accLen > 0 && accLen+n > maxLen {
			out = append(out, text[accStart:start])
			accLen = 0
		}
		if accLen == 0 {
			accStart = start
		}
		accLen += n
	}
	if accLen > 0 {
		out = append(out, text[accStart:])
	}
	return out
}

// headingOffsets returns the byte offsets of every line that starts a
// heading of exactly the given level. A heading on the very first line is
// not a cut point; it stays attached to the block it opens.
func headingOffsets(text string, level int) []int {
	marker := strings.Repeat("#", level) + " "
	var cuts []int
	for i := 0; i < len(text); {
		j := strings.IndexByte(text[i:], '\n')
		if j < 0 {
			break
		}
		lineStart := i + j + 1
		if strings.HasPrefix(text[lineStart:], marker) {
			cuts = append(cuts, lineStart)
		}
		i = lineStart
	}
	return cuts
}

// SegmentFixed cuts text into consecutive windows of size runes with no
// overlap. The final window may be shorter. Sized for the embedding
// model's token budget, not for readability.
func SegmentFixed(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size < 1 {
		size = 1
	}
	runes := []rune(text)
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
