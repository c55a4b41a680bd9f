package chat

import (
	"strings"
	"unicode/utf8"
)

// Classification tags a message. Language is empty unless Type is TypeCode.
type Classification struct {
	Type     MessageType
	Language string
}

// documentThreshold is the rune count above which plain text is a document.
const documentThreshold = 200

type languageRule struct {
	language string
	markers  []string
}

// Evaluated in order, first match wins. Markers are lower case.
var languageRules = []languageRule{
	{"JavaScript/JSX", []string{"`", "{", "function", "const ", "let "}},
	{"Python", []string{"def ", "import ", "elif "}},
	{"C++", []string{"int main", "cout <<", "#include"}},
	{"C", []string{"printf", "scanf"}},
	{"SQL", []string{"select ", "insert into", "where "}},
	{"CSS", []string{"body {", "font-family", ".class"}},
	{"HTML", []string{"<div", "<!doctype"}},
}

// Classify guesses what kind of content text is. It never fails.
func Classify(text string) Classification {
	if strings.TrimSpace(text) == "" {
		return Classification{Type: TypeText}
	}

	lower := strings.ToLower(text)
	for _, rule := range languageRules {
		for _, marker := range rule.markers {
			if strings.Contains(lower, marker) {
				return Classification{Type: TypeCode, Language: rule.language}
			}
		}
	}

	if utf8.RuneCountInString(text) > documentThreshold {
		return Classification{Type: TypeDocument}
	}
	return Classification{Type: TypeText}
}
