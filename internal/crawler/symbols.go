package crawler

import (
	"regexp"
	"slices"
	"strings"
)

// MaxSymbolLength drops captures that are too long to be identifiers.
const MaxSymbolLength = 100

var (
	cFamily = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*\w+\s+(\w+)\s*\(.*\)\s*\{`),
		regexp.MustCompile(`struct\s+(\w+)`),
		regexp.MustCompile(`enum\s+(\w+)`),
	}

	// symbolPatterns are keyed by enry language name. Each pattern captures
	// the declared identifier in group 1.
	symbolPatterns = map[string][]*regexp.Regexp{
		"Go": {
			regexp.MustCompile(`func\s+(?:\([^)]*\)\s*)?(\w+)`),
			regexp.MustCompile(`type\s+(\w+)\s+(?:struct|interface)`),
			regexp.MustCompile(`const\s+(\w+)`),
			regexp.MustCompile(`var\s+(\w+)`),
		},
		"Python": {
			regexp.MustCompile(`(?m)^\s*def\s+(\w+)`),
			regexp.MustCompile(`(?m)^\s*class\s+(\w+)`),
		},
		"Java": {
			regexp.MustCompile(`class\s+(\w+)`),
			regexp.MustCompile(`interface\s+(\w+)`),
			regexp.MustCompile(`enum\s+(\w+)`),
			regexp.MustCompile(`(?:public|protected|private|static)\s+[\w<>\[\]]+\s+(\w+)\s*\(`),
		},
		"JavaScript": {
			regexp.MustCompile(`function\s+(\w+)`),
			regexp.MustCompile(`class\s+(\w+)`),
			regexp.MustCompile(`(?:const|let|var)\s+(\w+)\s*=`),
		},
		"TypeScript": {
			regexp.MustCompile(`function\s+(\w+)`),
			regexp.MustCompile(`class\s+(\w+)`),
			regexp.MustCompile(`interface\s+(\w+)`),
			regexp.MustCompile(`type\s+(\w+)\s*=`),
			regexp.MustCompile(`(?:const|let)\s+(\w+)\s*=`),
		},
		"Rust": {
			regexp.MustCompile(`fn\s+(\w+)`),
			regexp.MustCompile(`struct\s+(\w+)`),
			regexp.MustCompile(`enum\s+(\w+)`),
			regexp.MustCompile(`trait\s+(\w+)`),
			regexp.MustCompile(`mod\s+(\w+)`),
		},
		"C":   append(slices.Clone(cFamily), regexp.MustCompile(`#define\s+(\w+)`)),
		"C++": append(slices.Clone(cFamily), regexp.MustCompile(`class\s+(\w+)`)),
	}
)

// ExtractSymbols returns the sorted, distinct declared identifiers of content
// in language. Unknown languages have no symbols.
func ExtractSymbols(language, content string) []string {
	patterns, ok := symbolPatterns[language]
	if !ok {
		return nil
	}

	seen := make(map[string]struct{})
	for _, re := range patterns {
		for _, match := range re.FindAllStringSubmatch(content, -1) {
			if len(match) < 2 {
				continue
			}
			symbol := strings.TrimSpace(match[1])
			if symbol != "" && len(symbol) < MaxSymbolLength {
				seen[symbol] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	slices.Sort(symbols)
	return symbols
}
