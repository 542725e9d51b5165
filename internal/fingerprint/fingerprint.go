// Package fingerprint provides pure content hashing for duplicate detection.
// It produces an exact fingerprint, a coarser topic hash, and a token-overlap
// similarity score. No state, no I/O.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	exactLen = 24
	topicLen = 12
)

// Func scores the similarity of two content strings in [0,1].
// Implementations must be commutative.
type Func func(a, b string) float64

var (
	cashtagRe = regexp.MustCompile(`\$([a-zA-Z][a-zA-Z0-9]{1,9})\b`)
	tickerRe  = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}\b`)
	symbolRe  = regexp.MustCompile(`\b(btc|eth|sol|bnb|xrp|ada|doge|shib|avax|matic|dot|link)\b`)
	priceRe   = regexp.MustCompile(`\$?([\d,]+\.?\d{0,6})`)
	wordRe    = regexp.MustCompile(`[^\w\s]`)
	spaceRe   = regexp.MustCompile(`\s+`)
	urlRe     = regexp.MustCompile(`https?://\S+`)
	mentionRe = regexp.MustCompile(`@\w+`)
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "its": {}, "has": {},
	"was": {}, "but": {}, "not": {}, "with": {}, "this": {}, "that": {},
	"from": {}, "will": {}, "you": {}, "your": {}, "nfa": {}, "dyor": {},
}

// Exact returns a deterministic fingerprint of the normalized content.
// Whitespace runs collapse, case folds, punctuation is stripped, so
// trivially reworded copies still collide.
func Exact(content string) string {
	norm := normalize(content)
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])[:exactLen]
}

// Topic returns a coarse hash of the content's entities and price ranges.
// Paraphrases of the same subject are meant to collide.
func Topic(content string) string {
	entities := Entities(content)
	ranges := priceRanges(content)
	topic := strings.Join(entities, "-") + "_" + strings.Join(ranges, "_")
	sum := sha256.Sum256([]byte(topic))
	return hex.EncodeToString(sum[:])[:topicLen]
}

// Similarity computes the Jaccard overlap of the two normalized token sets.
// Returns a value in [0,1]; commutative by construction.
func Similarity(a, b string) float64 {
	wa := tokenSet(a)
	wb := tokenSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	intersection := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			intersection++
		}
	}
	union := len(wa) + len(wb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Entities extracts the sorted entity tokens from content: cashtags and
// well-known symbols, plus the most significant non-stopword terms.
func Entities(content string) []string {
	lower := strings.ToLower(content)
	seen := map[string]struct{}{}

	for _, m := range cashtagRe.FindAllStringSubmatch(content, -1) {
		seen[strings.ToUpper(m[1])] = struct{}{}
	}
	for _, m := range tickerRe.FindAllString(content, -1) {
		if _, stop := stopwords[strings.ToLower(m)]; !stop {
			seen[m] = struct{}{}
		}
	}
	for _, m := range symbolRe.FindAllStringSubmatch(lower, -1) {
		seen[strings.ToUpper(m[1])] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) > 5 {
		out = out[:5]
	}
	if len(out) > 0 {
		return out
	}

	// No explicit entities; fall back to the rarest-looking significant words.
	words := strings.Fields(wordRe.ReplaceAllString(lower, " "))
	for _, w := range words {
		if len(w) < 4 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		seen[w] = struct{}{}
	}
	out = out[:0]
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// priceRanges buckets the first few prices found in the content into coarse
// order-of-magnitude labels so topic hashes survive small price moves.
func priceRanges(content string) []string {
	var ranges []string
	for _, m := range priceRe.FindAllStringSubmatch(content, -1) {
		raw := strings.ReplaceAll(m[1], ",", "")
		if len(raw) < 2 {
			continue
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil || val <= 0.0001 {
			continue
		}
		switch {
		case val < 1:
			ranges = append(ranges, "sub1")
		case val < 100:
			ranges = append(ranges, "sub100")
		case val < 1000:
			ranges = append(ranges, "sub1k")
		default:
			ranges = append(ranges, "1k+")
		}
		if len(ranges) == 3 {
			break
		}
	}
	return ranges
}

func normalize(content string) string {
	s := strings.ToLower(content)
	s = wordRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func tokenSet(content string) map[string]struct{} {
	s := strings.ToLower(content)
	s = urlRe.ReplaceAllString(s, "")
	s = mentionRe.ReplaceAllString(s, "")
	s = wordRe.ReplaceAllString(s, " ")
	set := map[string]struct{}{}
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}
