package stages

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/keys"
	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
)

// TermFrequency is stage 2: it regroups word counts by document so every
// record can carry the document's total word count.
type TermFrequency struct{}

// Map turns "word@doc\tcount" into doc -> "word$count".
func (TermFrequency) Map(tc *engine.TaskContext, line string, emit engine.Emitter) error {
	key, value, err := keys.SplitRecord(line)
	if err != nil {
		tc.Skip(reasonMalformed, line, err)
		return nil
	}
	wd, err := keys.DecodeWordDoc(key)
	if err != nil {
		tc.Skip(reasonMalformed, line, err)
		return nil
	}
	count, err := keys.ParseCount(value)
	if err != nil {
		return err
	}
	emit(keys.Escape(wd.DocID), keys.WordCount{Word: wd.Word, Count: count}.Encode())
	return nil
}

// Reduce builds the document's word -> count bundle and emits
// "word@doc\tcount&total" for each word.
func (TermFrequency) Reduce(tc *engine.TaskContext, key string, values []string, emit engine.Emitter) error {
	docID := keys.Unescape(key)
	counts := make(map[string]int64, len(values))
	var total int64
	for _, v := range values {
		wc, err := keys.DecodeWordCount(v)
		if err != nil {
			if apperrors.IsRecoverable(err) {
				tc.Skip(reasonMalformed, v, err)
				continue
			}
			return err
		}
		if prev, dup := counts[wc.Word]; dup {
			// Stage 1 already aggregated per (word, doc); a repeat means the
			// input was not produced by it.
			tc.Counter(CounterDuplicateWords, 1)
			tc.Logger().Warn("duplicate word in document bundle",
				"doc_id", docID,
				"word", wc.Word,
				"previous", prev,
				"current", wc.Count,
			)
		}
		counts[wc.Word] = wc.Count
		total += wc.Count
	}
	if len(counts) == 0 {
		return nil
	}
	if total == 0 {
		return apperrors.Errorf(apperrors.ErrZeroTotal, "document %q", docID)
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Strings(words)
	for _, w := range words {
		emit(
			keys.WordDoc{Word: w, DocID: docID}.Encode(),
			keys.CountTotal{Count: counts[w], Total: total}.Encode(),
		)
	}
	return nil
}

// CounterDuplicateWords counts words seen twice for one document in stage 2.
const CounterDuplicateWords = "tf." + reasonDuplicate

// TermFrequencyJob builds the stage 2 job.
func TermFrequencyJob() engine.Job {
	return engine.Job{
		Name:    NameTermFrequency,
		Mapper:  TermFrequency{},
		Reducer: TermFrequency{},
	}
}
