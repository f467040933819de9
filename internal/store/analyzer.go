package store

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// DocTokenizerName is the registered name of the identifier-aware tokenizer.
	DocTokenizerName = "rustdoc_tokenizer"

	// DocStopFilterName is the registered name of the stop word filter.
	DocStopFilterName = "rustdoc_stop"

	// DocAnalyzerName is the analyzer used for title and content.
	DocAnalyzerName = "rustdoc_analyzer"

	// docStopFilterInstance is the per-index stop filter carrying the
	// configured word list.
	docStopFilterInstance = "rustdoc_stop_words"
)

func init() {
	_ = registry.RegisterTokenizer(DocTokenizerName, docTokenizerConstructor)
	_ = registry.RegisterTokenFilter(DocStopFilterName, docStopFilterConstructor)
}

// Token is a term with its byte offsets in the source text.
type Token struct {
	Term  string
	Start int
	End   int
	// Compound marks the whole-identifier token emitted after its parts.
	Compound bool
}

// Tokenize splits text into lowercase terms.
//
// Words are maximal runs of letters, digits and underscores. A word that is
// a compound identifier (snake_case, camelCase, PascalCase) yields its parts
// followed by the whole identifier, so "HashMap" matches both "hash map" and
// "hashmap", and "as_ref" matches "as_ref" as well as "ref".
func Tokenize(text string) []Token {
	var tokens []Token

	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		tokens = appendWord(tokens, text[start:end], start)
		start = -1
	}

	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))

	return tokens
}

// Terms returns just the lowercase terms of Tokenize(text).
func Terms(text string) []string {
	toks := Tokenize(text)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Term
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func appendWord(tokens []Token, word string, offset int) []Token {
	parts := splitIdentifier(word)
	for _, p := range parts {
		term := strings.ToLower(p.text)
		if len(term) < 2 && !isDigits(term) {
			continue
		}
		tokens = append(tokens, Token{Term: term, Start: offset + p.start, End: offset + p.start + len(p.text)})
	}
	if len(parts) > 1 {
		whole := strings.ToLower(strings.Trim(word, "_"))
		if whole != "" {
			tokens = append(tokens, Token{Term: whole, Start: offset, End: offset + len(word), Compound: true})
		}
	}
	return tokens
}

type wordPart struct {
	text  string
	start int
}

// splitIdentifier splits on underscores and case changes.
// "parseHTTPRequest" -> parse, HTTP, Request; "into_iter" -> into, iter.
func splitIdentifier(word string) []wordPart {
	var parts []wordPart

	runes := []rune(word)
	byteOff := make([]int, len(runes)+1)
	off := 0
	for i, r := range runes {
		byteOff[i] = off
		off += len(string(r))
	}
	byteOff[len(runes)] = off

	segStart := -1
	emit := func(end int) {
		if segStart >= 0 && end > segStart {
			parts = append(parts, wordPart{text: word[byteOff[segStart]:byteOff[end]], start: byteOff[segStart]})
		}
		segStart = -1
	}

	for i, r := range runes {
		if r == '_' {
			emit(i)
			continue
		}
		if segStart >= 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
				emit(i)
			}
		}
		if segStart < 0 {
			segStart = i
		}
	}
	emit(len(runes))

	return parts
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// StopWordSet converts a stop word list to a lookup set.
func StopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// AnalyzeTerms tokenizes text and drops stop words, as the index does.
func AnalyzeTerms(text string, stop map[string]struct{}) []string {
	var out []string
	for _, t := range Tokenize(text) {
		if _, ok := stop[t.Term]; ok {
			continue
		}
		out = append(out, t.Term)
	}
	return out
}

func docTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveDocTokenizer{}, nil
}

type bleveDocTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *bleveDocTokenizer) Tokenize(input []byte) analysis.TokenStream {
	toks := Tokenize(string(input))
	stream := make(analysis.TokenStream, 0, len(toks))
	pos := 0
	for _, tok := range toks {
		// The compound form shares the position of its last part so phrase
		// queries over the parts still line up.
		if !tok.Compound || pos == 0 {
			pos++
		}
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok.Term),
			Start:    tok.Start,
			End:      tok.End,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
	}
	return stream
}

// docStopFilterConstructor reads "stop_words" from the filter config. The
// list arrives as []string from a fresh mapping and as []interface{} once the
// mapping has been persisted and reopened. Without the key the defaults apply.
func docStopFilterConstructor(config map[string]interface{}, _ *registry.Cache) (analysis.TokenFilter, error) {
	raw, ok := config["stop_words"]
	if !ok {
		return &bleveStopFilter{stop: StopWordSet(DefaultStopWords)}, nil
	}

	var words []string
	switch list := raw.(type) {
	case []string:
		words = list
	case []interface{}:
		for _, w := range list {
			s, ok := w.(string)
			if !ok {
				return nil, fmt.Errorf("stop_words entries must be strings, got %T", w)
			}
			words = append(words, s)
		}
	default:
		return nil, fmt.Errorf("stop_words must be a list, got %T", raw)
	}
	return &bleveStopFilter{stop: StopWordSet(words)}, nil
}

type bleveStopFilter struct {
	stop map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		if _, ok := f.stop[string(tok.Term)]; !ok {
			out = append(out, tok)
		}
	}
	return out
}
