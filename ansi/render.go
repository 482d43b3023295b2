// Package ansi converts raw terminal output containing ANSI escape sequences
// into styled spans that every consumer shares. It is deliberately not a
// terminal emulator: there is no grid, no cursor addressing, no scrollback.
// The only positional behavior honored is carriage-return overwrite, which is
// how interactive CLIs render in-place progress lines.
package ansi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Style is the accumulator state carried across SGR sequences within one
// Render call. Color is a hex string like "#ff5f00", or empty for default.
type Style struct {
	Color   string
	Bold    bool
	Italic  bool
	Dim     bool
	Reverse bool
}

// IsZero reports whether the style is the terminal default.
func (s Style) IsZero() bool {
	return s == Style{}
}

// Span is a run of literal text with a single style. Span text never contains
// escape sequences; encoding at the consumer boundary (JSON for remote
// clients, lipgloss for the terminal) keeps it injection-safe.
type Span struct {
	Text  string `json:"text"`
	Style Style  `json:"style"`
}

var (
	// sgrRegex matches SGR (style) sequences, capturing the parameter list.
	sgrRegex = regexp.MustCompile(`\x1b\[([0-9;]*)m`)
	// csiRegex matches any CSI sequence, style or not.
	csiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
	// oscRegex matches OSC sequences (window title, hyperlinks) terminated by
	// BEL or ST.
	oscRegex = regexp.MustCompile(`\x1b\][^\x1b\x07]*(?:\x1b\\|\x07)`)
	// escRegex matches the remaining single-character escapes (RIS, charset
	// selection) that carry no printable content.
	escRegex = regexp.MustCompile(`\x1b[a-zA-Z=>]`)
)

// Render parses a text fragment into styled spans. Unrecognized escape
// sequences are dropped, never fatal. Lines are collapsed through
// carriage-return overwrite before parsing, matching what a terminal would
// actually display.
func Render(fragment string) []Span {
	var spans []Span
	var cur Style

	lines := strings.Split(fragment, "\n")
	for i, line := range lines {
		if i > 0 {
			spans = appendSpan(spans, "\n", cur)
		}
		// Only the content after the last carriage return survives.
		if idx := strings.LastIndex(line, "\r"); idx >= 0 {
			line = line[idx+1:]
		}

		rest := line
		for rest != "" {
			loc := sgrRegex.FindStringSubmatchIndex(rest)
			if loc == nil {
				spans = appendSpan(spans, stripNonSGR(rest), cur)
				break
			}
			if loc[0] > 0 {
				spans = appendSpan(spans, stripNonSGR(rest[:loc[0]]), cur)
			}
			cur = applySGR(cur, rest[loc[2]:loc[3]])
			rest = rest[loc[1]:]
		}
	}
	return spans
}

// appendSpan adds text to the span list, merging runs that share a style.
func appendSpan(spans []Span, text string, style Style) []Span {
	if text == "" {
		return spans
	}
	if n := len(spans); n > 0 && spans[n-1].Style == style {
		spans[n-1].Text += text
		return spans
	}
	return append(spans, Span{Text: text, Style: style})
}

// stripNonSGR removes non-style escape sequences from literal text.
func stripNonSGR(s string) string {
	s = oscRegex.ReplaceAllString(s, "")
	s = csiRegex.ReplaceAllString(s, "")
	return escRegex.ReplaceAllString(s, "")
}

// applySGR updates the style accumulator with one SGR parameter list.
func applySGR(cur Style, params string) Style {
	if params == "" {
		return Style{}
	}
	codes := strings.Split(params, ";")
	for i := 0; i < len(codes); i++ {
		n, err := strconv.Atoi(codes[i])
		if err != nil {
			continue
		}
		switch n {
		case 0:
			cur = Style{}
		case 1:
			cur.Bold = true
		case 2:
			cur.Dim = true
		case 3:
			cur.Italic = true
		case 7:
			cur.Reverse = true
		case 22:
			cur.Bold, cur.Dim = false, false
		case 23:
			cur.Italic = false
		case 27:
			cur.Reverse = false
		case 39:
			cur.Color = ""
		case 38:
			// 38;5;n selects from the 256-color palette. 38;2;r;g;b (true
			// color) is recognized so its parameters aren't misread as codes.
			if i+2 < len(codes) && codes[i+1] == "5" {
				if idx, err := strconv.Atoi(codes[i+2]); err == nil && idx >= 0 && idx <= 255 {
					cur.Color = Palette256(idx)
				}
				i += 2
			} else if i+4 < len(codes) && codes[i+1] == "2" {
				r, errR := strconv.Atoi(codes[i+2])
				g, errG := strconv.Atoi(codes[i+3])
				b, errB := strconv.Atoi(codes[i+4])
				if errR == nil && errG == nil && errB == nil {
					cur.Color = fmt.Sprintf("#%02x%02x%02x", r&0xff, g&0xff, b&0xff)
				}
				i += 4
			}
		default:
			// 30-37/90-97 map to the first 16 palette entries; everything
			// else (backgrounds, blink, underline) is ignored.
			if n >= 30 && n <= 37 {
				cur.Color = Palette256(n - 30)
			} else if n >= 90 && n <= 97 {
				cur.Color = Palette256(n - 90 + 8)
			}
		}
	}
	return cur
}

// Strip removes all escape sequences and applies carriage-return overwrite,
// returning plain printable text. This is what the transcript layer hashes
// and commits.
func Strip(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		line = oscRegex.ReplaceAllString(line, "")
		line = csiRegex.ReplaceAllString(line, "")
		line = escRegex.ReplaceAllString(line, "")
		if idx := strings.LastIndex(line, "\r"); idx >= 0 {
			line = line[idx+1:]
		}
		b.WriteString(line)
	}
	return b.String()
}

// Styled renders spans for a terminal using lipgloss. This is the one shared
// formatter; display surfaces never re-implement SGR handling.
func Styled(spans []Span) string {
	var b strings.Builder
	for _, sp := range spans {
		if sp.Style.IsZero() {
			b.WriteString(sp.Text)
			continue
		}
		st := lipgloss.NewStyle()
		if sp.Style.Color != "" {
			st = st.Foreground(lipgloss.Color(sp.Style.Color))
		}
		if sp.Style.Bold {
			st = st.Bold(true)
		}
		if sp.Style.Italic {
			st = st.Italic(true)
		}
		if sp.Style.Dim {
			st = st.Faint(true)
		}
		if sp.Style.Reverse {
			st = st.Reverse(true)
		}
		b.WriteString(st.Render(sp.Text))
	}
	return b.String()
}

// Plain concatenates span text without styling.
func Plain(spans []Span) string {
	var b strings.Builder
	for _, sp := range spans {
		b.WriteString(sp.Text)
	}
	return b.String()
}
