// Package stages holds the map and reduce functions of the three TF-IDF
// stages. Each stage groups by a different key:
//
//	1. word count      (word, doc) -> occurrences; counts documents
//	2. term frequency  doc         -> (word, count, total words in doc)
//	3. tf-idf          word        -> (doc, count, total), scored with the
//	                                  document count frozen after stage 1
//
// Stage functions are free of side effects apart from counters, so the
// engine may run them in any order and degree of parallelism.
package stages

import (
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/keys"
	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
)

// Stage names, also used as output directory names.
const (
	NameWordCount     = "wordcount"
	NameTermFrequency = "tf"
	NameTFIDF         = "tfidf"
)

// DocumentCounter is incremented once per valid input record in stage 1.
// ConfDocumentCount is the stage 3 configuration key carrying its frozen
// value.
const (
	DocumentCounter   = "documents.count"
	ConfDocumentCount = "documents.count"
)

const (
	inputFieldSep   = ","
	minInputFields  = 3
	docIDField      = 0
	textField       = 2
	tokenSeparator  = " "
	reasonShort     = "short_record"
	reasonMalformed = "malformed"
	reasonDuplicate = "duplicate_word"
)

// WordCount is stage 1. Its reducer doubles as the combiner because summing
// is associative and commutative.
type WordCount struct{}

func (WordCount) Map(tc *engine.TaskContext, line string, emit engine.Emitter) error {
	fields := strings.Split(line, inputFieldSep)
	if len(fields) < minInputFields {
		tc.Skip(reasonShort, line, apperrors.Errorf(apperrors.ErrMalformedInput,
			"%d fields, need %d", len(fields), minInputFields))
		return nil
	}
	// An empty document id is still a valid record; it encodes as "word@".
	docID := fields[docIDField]
	tc.Counter(DocumentCounter, 1)

	for _, word := range strings.Split(fields[textField], tokenSeparator) {
		if word == "" {
			continue
		}
		emit(keys.WordDoc{Word: word, DocID: docID}.Encode(), "1")
	}
	return nil
}

func (WordCount) Reduce(tc *engine.TaskContext, key string, values []string, emit engine.Emitter) error {
	var sum int64
	for _, v := range values {
		n, err := keys.ParseCount(v)
		if err != nil {
			return err
		}
		sum += n
	}
	emit(key, strconv.FormatInt(sum, 10))
	return nil
}

// WordCountJob builds the stage 1 job.
func WordCountJob() engine.Job {
	return engine.Job{
		Name:     NameWordCount,
		Mapper:   WordCount{},
		Reducer:  WordCount{},
		Combiner: WordCount{},
	}
}
