// Package rtf recovers the original HTML from RTF bodies that were generated
// from HTML mail, and decompresses PR_RTF_COMPRESSED streams.
package rtf

import (
	"regexp"
	"strings"
)

const (
	rtfSignature = `{\rtf1`
	htmlMarker   = `\fromhtml`
)

var (
	reParagraph   = regexp.MustCompile(`\\par\s`)
	reHTMLRTF     = regexp.MustCompile(`\\htmlrtf`)
	reHTMLRTFEnd  = regexp.MustCompile(`\\htmlrtf0`)
	rePNText      = regexp.MustCompile(`\\pntext`)
	reControlWord = regexp.MustCompile(`\\(?:\*|'?[a-z\-0-9]+)`)

	newlines      = strings.NewReplacer("\r\n", "", "\n", "", "\r", "")
	escapedBraces = strings.NewReplacer(`\{`, "{", `\}`, "}")
)

// ExtractHTML returns the HTML wrapped by an RTF body. It reports false when
// the input is not RTF, was not generated from HTML, or contains no markup.
//
// This is a heuristic strip of RTF control sequences, not an RTF parser.
func ExtractHTML(data []byte) (string, bool) {
	text := strings.ToValidUTF8(string(data), "�")
	if !strings.HasPrefix(text, rtfSignature) || !strings.Contains(text, htmlMarker) {
		return "", false
	}

	text = newlines.Replace(text)
	text = replaceUnescaped(reParagraph, text, "\n")
	text = stripMarkup(text)

	idx := strings.IndexByte(text, '<')
	if idx < 0 {
		return "", false
	}
	return text[idx:], true
}

// stripMarkup removes \htmlrtf blocks, \pntext runs, group braces and control
// words, then unescapes literal braces.
func stripMarkup(text string) string {
	for {
		stripped, n := removeHTMLRTFBlocks(text)
		text = stripped
		if n == 0 {
			break
		}
	}
	text = removePNText(text)
	text = removeBraces(text)
	text = replaceUnescaped(reControlWord, text, "")
	return escapedBraces.Replace(text)
}

func escaped(s string, i int) bool {
	return i > 0 && s[i-1] == '\\'
}

// findUnescaped returns the leftmost match of re starting at or after from
// that is not preceded by a backslash.
func findUnescaped(re *regexp.Regexp, s string, from int) []int {
	for from <= len(s) {
		loc := re.FindStringIndex(s[from:])
		if loc == nil {
			return nil
		}
		start, end := from+loc[0], from+loc[1]
		if !escaped(s, start) {
			return []int{start, end}
		}
		from = start + 1
	}
	return nil
}

func replaceUnescaped(re *regexp.Regexp, s, repl string) string {
	var b strings.Builder
	last, pos := 0, 0
	for {
		loc := findUnescaped(re, s, pos)
		if loc == nil {
			break
		}
		b.WriteString(s[last:loc[0]])
		b.WriteString(repl)
		last, pos = loc[1], loc[1]
		if loc[0] == loc[1] {
			pos++
		}
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// removeHTMLRTFBlocks deletes every non-overlapping \htmlrtf ... \htmlrtf0
// run, shortest match first, and reports how many were removed.
func removeHTMLRTFBlocks(s string) (string, int) {
	var b strings.Builder
	last, pos, n := 0, 0, 0
	for {
		start := findUnescaped(reHTMLRTF, s, pos)
		if start == nil {
			break
		}
		end := findUnescaped(reHTMLRTFEnd, s, start[1])
		if end == nil {
			break
		}
		b.WriteString(s[last:start[0]])
		last, pos = end[1], end[1]
		n++
	}
	if n == 0 {
		return s, 0
	}
	b.WriteString(s[last:])
	return b.String(), n
}

// removePNText deletes each \pntext control word and the text that follows it
// on the same line up to the next unescaped closing brace.
func removePNText(s string) string {
	var b strings.Builder
	last, pos := 0, 0
	for {
		loc := findUnescaped(rePNText, s, pos)
		if loc == nil {
			break
		}
		end := closingBrace(s, loc[1])
		if end < 0 {
			pos = loc[0] + 1
			continue
		}
		b.WriteString(s[last:loc[0]])
		last, pos = end, end
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

func closingBrace(s string, from int) int {
	for i := from; i < len(s); i++ {
		switch {
		case s[i] == '\n':
			return -1
		case s[i] == '}' && !escaped(s, i):
			return i
		}
	}
	return -1
}

func removeBraces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if (s[i] == '{' || s[i] == '}') && !escaped(s, i) {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

var htmlEscaper = strings.NewReplacer(`\`, `\\`, "{", `\{`, "}", `\}`, "\r\n", "\\par \n", "\n", "\\par \n")

// EncapsulateHTML wraps html in an RTF body marked as generated from HTML,
// the form a store keeps for mail that arrived as HTML.
func EncapsulateHTML(html string) []byte {
	var b strings.Builder
	b.WriteString(rtfSignature)
	b.WriteString(`\ansi\ansicpg65001\fromhtml1 \deff0{\fonttbl{\f0\fswiss Arial;}}`)
	b.WriteString(`{\*\htmltag64 `)
	b.WriteString(htmlEscaper.Replace(html))
	b.WriteString("}}")
	return []byte(b.String())
}
