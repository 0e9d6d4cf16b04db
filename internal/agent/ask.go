package agent

import (
	"regexp"
	"strings"
)

var (
	askPattern    = regexp.MustCompile(`(?s)<ASK>(.*?)</?ASK>`)
	optionPattern = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+(.+?)\s*$`)
)

// parseAsk extracts the question of an <ASK>...<ASK> block and the
// numbered or bulleted options listed inside it.
func parseAsk(text string) (question string, options []string, ok bool) {
	m := askPattern.FindStringSubmatch(text)
	if m == nil {
		return "", nil, false
	}
	question = strings.TrimSpace(m[1])
	if question == "" {
		return "", nil, false
	}
	for _, line := range strings.Split(question, "\n") {
		if om := optionPattern.FindStringSubmatch(line); om != nil {
			options = append(options, om[1])
		}
	}
	return question, options, true
}
