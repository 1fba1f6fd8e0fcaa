// Package transcript turns recognizer output into insertion-ready text.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var title = cases.Title(language.Und, cases.NoLower)

// Normalize collapses whitespace, tidies punctuation spacing, capitalizes
// each sentence and ensures terminal punctuation. Normalize(Normalize(s))
// == Normalize(s).
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	s = spacePunctuation(s)
	s = capitalize(s)
	return terminate(s)
}

func isClause(r rune) bool    { return r == ',' || r == ';' || r == ':' }
func isSentence(r rune) bool  { return r == '.' || r == '!' || r == '?' }
func isCloser(r rune) bool    { return strings.ContainsRune(`"')]}”’»`, r) }
func isTerminal(r rune) bool  { return isSentence(r) || strings.ContainsRune("…。！？", r) }
func isIdeograph(r rune) bool { return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) }

// spacePunctuation removes spaces before punctuation and adds one after a
// clause mark, or a '!' or '?', that runs straight into a word. Periods are
// left alone so abbreviations and decimals survive.
func spacePunctuation(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i, r := range runes {
		if r == ' ' && i+1 < len(runes) && (isClause(runes[i+1]) || isSentence(runes[i+1])) {
			continue
		}
		b.WriteRune(r)
		if i+1 >= len(runes) {
			break
		}
		next := runes[i+1]
		switch {
		case isClause(r) && unicode.IsLetter(next) && !isIdeograph(next):
			b.WriteByte(' ')
		case (r == '!' || r == '?') && unicode.IsLetter(next) && !isIdeograph(next):
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// capitalize title-cases the first letter of the text and of every word
// that follows a sentence end.
func capitalize(s string) string {
	words := strings.Split(s, " ")
	start := true
	for i, w := range words {
		if start {
			words[i] = titleFirst(w)
		}
		switch {
		case endsSentence(w):
			start = true
		case hasLetter(w):
			start = false
		}
	}
	return strings.Join(words, " ")
}

func titleFirst(w string) string {
	i := strings.IndexFunc(w, unicode.IsLetter)
	if i < 0 {
		return w
	}
	j := i + strings.IndexFunc(w[i:], func(r rune) bool { return !unicode.IsLetter(r) })
	if j < i {
		j = len(w)
	}
	return w[:i] + title.String(w[i:j]) + w[j:]
}

func hasLetter(w string) bool { return strings.IndexFunc(w, unicode.IsLetter) >= 0 }

func endsSentence(w string) bool {
	w = strings.TrimRightFunc(w, isCloser)
	r, _ := utf8.DecodeLastRuneInString(w)
	return isTerminal(r)
}

func terminate(s string) string {
	trimmed := strings.TrimRightFunc(s, isCloser)
	// Spaces and a dangling clause mark before the closers are dropped.
	body := strings.TrimRightFunc(trimmed, func(r rune) bool { return r == ' ' || isClause(r) })
	if body == "" {
		return s
	}
	if endsSentence(body) {
		return body + s[len(trimmed):]
	}
	r, _ := utf8.DecodeLastRuneInString(body)
	mark := "."
	if isIdeograph(r) {
		mark = "。"
	}
	return body + mark + s[len(trimmed):]
}
