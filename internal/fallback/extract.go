package fallback

import (
	"strings"
)

// ExtractCode pulls the code payload out of a model completion.
// When the completion holds fenced blocks, the longest block wins;
// otherwise leading/trailing fence markers are stripped from the raw text.
func ExtractCode(completion string) string {
	blocks := fencedBlocks(completion)
	if len(blocks) > 0 {
		longest := blocks[0]
		for _, b := range blocks[1:] {
			if len(b) > len(longest) {
				longest = b
			}
		}
		return longest
	}

	return stripStrayFences(completion)
}

// fencedBlocks returns the contents of every ``` block in order.
func fencedBlocks(text string) []string {
	var blocks []string
	lines := strings.Split(text, "\n")

	var current []string
	inBlock := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inBlock {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = nil
			}
			inBlock = !inBlock
			continue
		}
		if inBlock {
			current = append(current, line)
		}
	}
	return blocks
}

// stripStrayFences drops fence markers left at the edges of unfenced text.
func stripStrayFences(text string) string {
	trimmed := strings.TrimSpace(text)

	if idx := strings.Index(trimmed, "\n"); idx >= 0 && strings.HasPrefix(trimmed, "```") {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "\n"); idx >= 0 && strings.HasPrefix(strings.TrimSpace(trimmed[idx+1:]), "```") {
		trimmed = trimmed[:idx]
	}
	return strings.TrimRight(trimmed, "\n") + "\n"
}

// RepairCode applies the single bounded repair pass: drop a trailing
// incomplete line, then close an obviously unterminated string literal.
func RepairCode(code string) string {
	repaired := trimIncompleteTrailingLine(code)
	return closeUnterminatedString(repaired)
}

// trimIncompleteTrailingLine removes a final line that was cut off
// mid-generation (no terminating newline).
func trimIncompleteTrailingLine(code string) string {
	if code == "" || strings.HasSuffix(code, "\n") {
		return code
	}
	idx := strings.LastIndex(code, "\n")
	if idx < 0 {
		return code
	}
	return code[:idx+1]
}

// closeUnterminatedString appends the missing quote when the last
// non-empty line holds an odd number of unescaped quotes.
func closeUnterminatedString(code string) string {
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	if len(lines) == 0 {
		return code
	}
	last := lines[len(lines)-1]

	for _, quote := range []byte{'"', '\''} {
		if countUnescaped(last, quote)%2 == 1 {
			lines[len(lines)-1] = last + string(quote)
			return strings.Join(lines, "\n") + "\n"
		}
	}
	return code
}

func countUnescaped(line string, quote byte) int {
	count := 0
	for i := 0; i < len(line); i++ {
		if line[i] == quote && (i == 0 || line[i-1] != '\\') {
			count++
		}
	}
	return count
}
