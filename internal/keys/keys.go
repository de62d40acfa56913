// Package keys defines the typed composite keys and payloads exchanged
// between pipeline stages and the single encode/decode pair for each of them.
//
// Every identifier is escaped before it is joined with a reserved separator,
// so a word or document ID that itself contains '@', '$', '&', '%', a tab or
// a newline round-trips exactly instead of corrupting the key.
package keys

import (
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
)

// Reserved separators, in order of use.
const (
	IdentitySep = "@"
	PayloadSep  = "$"
	TotalSep    = "&"
	FieldSep    = "\t"
)

var (
	escaper = strings.NewReplacer(
		"%", "%25",
		"@", "%40",
		"$", "%24",
		"&", "%26",
		"\t", "%09",
		"\n", "%0A",
	)
	unescaper = strings.NewReplacer(
		"%25", "%",
		"%40", "@",
		"%24", "$",
		"%26", "&",
		"%09", "\t",
		"%0A", "\n",
	)
)

// Escape makes s safe to embed in a composite key or payload.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape.
func Unescape(s string) string {
	return unescaper.Replace(s)
}

// WordDoc identifies one word inside one document. Encoded as word@docId.
type WordDoc struct {
	Word  string
	DocID string
}

func (k WordDoc) Encode() string {
	return Escape(k.Word) + IdentitySep + Escape(k.DocID)
}

func DecodeWordDoc(s string) (WordDoc, error) {
	word, doc, err := cutOnce(s, IdentitySep)
	if err != nil {
		return WordDoc{}, err
	}
	if word == "" {
		return WordDoc{}, apperrors.Errorf(apperrors.ErrMalformedIntermediate, "empty word in key %q", s)
	}
	return WordDoc{Word: Unescape(word), DocID: Unescape(doc)}, nil
}

// WordCount is the stage 2 shuffle value. Encoded as word$count.
type WordCount struct {
	Word  string
	Count int64
}

func (v WordCount) Encode() string {
	return Escape(v.Word) + PayloadSep + strconv.FormatInt(v.Count, 10)
}

func DecodeWordCount(s string) (WordCount, error) {
	word, count, err := cutOnce(s, PayloadSep)
	if err != nil {
		return WordCount{}, err
	}
	n, err := ParseCount(count)
	if err != nil {
		return WordCount{}, err
	}
	return WordCount{Word: Unescape(word), Count: n}, nil
}

// CountTotal is a word's count in a document and that document's total word
// count. Encoded as count&total.
type CountTotal struct {
	Count int64
	Total int64
}

func (v CountTotal) Encode() string {
	return strconv.FormatInt(v.Count, 10) + TotalSep + strconv.FormatInt(v.Total, 10)
}

func DecodeCountTotal(s string) (CountTotal, error) {
	count, total, err := cutOnce(s, TotalSep)
	if err != nil {
		return CountTotal{}, err
	}
	c, err := ParseCount(count)
	if err != nil {
		return CountTotal{}, err
	}
	t, err := ParseCount(total)
	if err != nil {
		return CountTotal{}, err
	}
	return CountTotal{Count: c, Total: t}, nil
}

// DocCountTotal is the stage 3 shuffle value. Encoded as docId$count&total.
type DocCountTotal struct {
	DocID string
	CountTotal
}

func (v DocCountTotal) Encode() string {
	return Escape(v.DocID) + PayloadSep + v.CountTotal.Encode()
}

func DecodeDocCountTotal(s string) (DocCountTotal, error) {
	doc, rest, err := cutOnce(s, PayloadSep)
	if err != nil {
		return DocCountTotal{}, err
	}
	ct, err := DecodeCountTotal(rest)
	if err != nil {
		return DocCountTotal{}, err
	}
	return DocCountTotal{DocID: Unescape(doc), CountTotal: ct}, nil
}

// ParseCount parses a non-negative decimal count. Failures are fatal for the
// reduce group, so they map to ErrInvalidNumber rather than a skip.
func ParseCount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apperrors.Errorf(apperrors.ErrInvalidNumber, "%q: %v", s, err)
	}
	if n < 0 {
		return 0, apperrors.Errorf(apperrors.ErrInvalidNumber, "negative count %d", n)
	}
	return n, nil
}

// FormatScore renders a score so that parsing it back yields the same bits.
func FormatScore(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func ParseScore(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, apperrors.Errorf(apperrors.ErrInvalidNumber, "%q: %v", s, err)
	}
	return v, nil
}

// JoinRecord renders one stage-boundary line.
func JoinRecord(key, value string) string {
	return key + FieldSep + value
}

// SplitRecord splits a stage-boundary line into key and value.
func SplitRecord(line string) (string, string, error) {
	return cutOnce(line, FieldSep)
}

// cutOnce splits s around the only occurrence of sep. Escaped identifiers
// never contain sep, so a missing or repeated separator means the record is
// malformed.
func cutOnce(s, sep string) (string, string, error) {
	before, after, found := strings.Cut(s, sep)
	if !found {
		return "", "", apperrors.Errorf(apperrors.ErrMalformedIntermediate, "missing %q in %q", sep, s)
	}
	if strings.Contains(after, sep) {
		return "", "", apperrors.Errorf(apperrors.ErrMalformedIntermediate, "repeated %q in %q", sep, s)
	}
	return before, after, nil
}
