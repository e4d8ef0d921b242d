package model

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// FoldName returns the case-insensitive comparison key for a subject name.
// Names are NFC-normalized first so that composed and decomposed accents
// compare equal.
func FoldName(name string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

// NormalizeSubjectName trims a subject name, uppercases its first letter and
// lowercases the remainder ("mATH " -> "Math"). An empty or blank name
// normalizes to "".
func NormalizeSubjectName(name string) string {
	trimmed := norm.NFC.String(strings.TrimSpace(name))
	if trimmed == "" {
		return ""
	}

	_, size := utf8.DecodeRuneInString(trimmed)

	return cases.Upper(language.Und).String(trimmed[:size]) +
		cases.Lower(language.Und).String(trimmed[size:])
}
