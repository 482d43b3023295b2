package session

import (
	"regexp"
	"strings"

	"agent-relay/ansi"
)

// Matcher recognizes an idle input prompt in a screen. Detection is a
// heuristic over unstructured CLI output, not a protocol: a sufficiently
// unusual program can defeat it, which is why the list is pluggable
// per-program rather than hardened further.
type Matcher struct {
	Name    string
	Pattern *regexp.Regexp
}

// Matches reports whether the raw screen shows this prompt. The screen is
// stripped of escape sequences before matching so style changes can't hide
// the prompt.
func (m Matcher) Matches(screen string) bool {
	return m.Pattern.MatchString(ansi.Strip(screen))
}

// DefaultReadyMatchers recognize the prompts of the coding-agent CLIs this
// was built against: a bare `>` input line, and the shortcuts hint shown
// while idle.
func DefaultReadyMatchers() []Matcher {
	return []Matcher{
		{Name: "bare-prompt", Pattern: regexp.MustCompile(`(?m)^\s*>\s*$`)},
		{Name: "shortcuts-hint", Pattern: regexp.MustCompile(`\? for shortcuts`)},
	}
}

// AnyReady reports whether any matcher in the list recognizes the screen.
func AnyReady(matchers []Matcher, screen string) bool {
	for _, m := range matchers {
		if m.Matches(screen) {
			return true
		}
	}
	return false
}

// promptChromeRegex strips prompt markers, box-drawing borders and the idle
// hint so PromptOnly can tell whether anything substantive remains.
var promptChromeRegex = regexp.MustCompile(`(?m)^[>│╭╰─\s]+|[│╮╯─]+\s*$|\? for shortcuts`)

// PromptOnly reports whether stripped screen content is nothing but prompt
// chrome: an empty input box waiting for the user is not a response.
func PromptOnly(stripped string) bool {
	rest := promptChromeRegex.ReplaceAllString(stripped, "")
	return strings.TrimSpace(rest) == ""
}
