package classifier

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed keywords_es.yaml
var defaultKeywordsYAML []byte

// Keywords groups the vocabulary the rules look for.
type Keywords struct {
	Hot     []string `yaml:"hot"`
	Urgency []string `yaml:"urgency"`
	Action  []string `yaml:"action"`
	Warm    []string `yaml:"warm"`
}

// DefaultKeywords returns the embedded Spanish vocabulary.
func DefaultKeywords() Keywords {
	kw, err := ParseKeywords(defaultKeywordsYAML)
	if err != nil {
		panic(fmt.Sprintf("classifier: embedded keywords invalid: %v", err))
	}
	return kw
}

// LoadKeywords reads a YAML keyword file. An empty path yields the defaults.
func LoadKeywords(path string) (Keywords, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultKeywords(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Keywords{}, fmt.Errorf("classifier: read keywords: %w", err)
	}
	return ParseKeywords(data)
}

// ParseKeywords decodes YAML keyword data.
func ParseKeywords(data []byte) (Keywords, error) {
	var kw Keywords
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return Keywords{}, fmt.Errorf("classifier: parse keywords: %w", err)
	}
	if err := kw.validate(); err != nil {
		return Keywords{}, err
	}
	return kw, nil
}

func (k Keywords) validate() error {
	if len(k.Hot) == 0 {
		return errors.New("classifier: hot keyword list is empty")
	}
	if len(k.Urgency) == 0 {
		return errors.New("classifier: urgency keyword list is empty")
	}
	return nil
}

// normalized folds every term and drops blanks and duplicates.
func (k Keywords) normalized() Keywords {
	return Keywords{
		Hot:     foldList(k.Hot),
		Urgency: foldList(k.Urgency),
		Action:  foldList(k.Action),
		Warm:    foldList(k.Warm),
	}
}

func foldList(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		f := strings.Join(strings.Fields(Fold(term)), " ")
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Fold lowercases s and strips diacritics so "Cuándo" matches "cuando".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// findTerm returns the first term found in text as a whole word or phrase.
// text must already be folded.
func findTerm(text string, terms []string) (string, bool) {
	for _, term := range terms {
		if containsWord(text, term) {
			return term, true
		}
	}
	return "", false
}

func containsWord(text, term string) bool {
	for start := 0; start < len(text); {
		idx := strings.Index(text[start:], term)
		if idx < 0 {
			return false
		}
		begin := start + idx
		end := begin + len(term)
		if boundaryBefore(text, begin) && boundaryAfter(text, end) {
			return true
		}
		start = begin + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
