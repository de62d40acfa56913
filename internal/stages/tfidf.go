package stages

import (
	"math"
	"sort"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/keys"
	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
)

// DocumentCount is the global document count, captured from stage 1's
// frozen counters. It is the only way to configure stage 3.
type DocumentCount struct {
	n int64
}

// FreezeDocumentCount reads the document counter of a completed stage 1
// result. It fails if the result's counters have not passed the barrier.
func FreezeDocumentCount(res *engine.Result) (DocumentCount, error) {
	n, err := res.Counters.Value(DocumentCounter)
	if err != nil {
		return DocumentCount{}, err
	}
	return DocumentCount{n: n}, nil
}

// NewDocumentCount wraps a count recovered from a previous run's manifest.
func NewDocumentCount(n int64) (DocumentCount, error) {
	if n < 0 {
		return DocumentCount{}, apperrors.Errorf(apperrors.ErrInvalidNumber, "negative document count %d", n)
	}
	return DocumentCount{n: n}, nil
}

func (d DocumentCount) Value() int64 { return d.n }

// TFIDF is stage 3: it regroups term frequencies by word and scores every
// (word, document) pair.
type TFIDF struct {
	documents int64
}

// Setup reads the frozen document count from the stage configuration.
func (s *TFIDF) Setup(conf engine.Conf) error {
	n, err := conf.Int64(ConfDocumentCount)
	if err != nil {
		return err
	}
	if n < 0 {
		return apperrors.Errorf(apperrors.ErrInvalidNumber, "negative document count %d", n)
	}
	s.documents = n
	return nil
}

// Map turns "word@doc\tcount&total" into word -> "doc$count&total".
func (s *TFIDF) Map(tc *engine.TaskContext, line string, emit engine.Emitter) error {
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
	ct, err := keys.DecodeCountTotal(value)
	if err != nil {
		if apperrors.IsRecoverable(err) {
			tc.Skip(reasonMalformed, line, err)
			return nil
		}
		return err
	}
	emit(keys.Escape(wd.Word), keys.DocCountTotal{DocID: wd.DocID, CountTotal: ct}.Encode())
	return nil
}

// Reduce computes tf per document, idf = ln(N / df) for the word, and emits
// "word@doc\ttf*idf" for every document containing the word.
func (s *TFIDF) Reduce(tc *engine.TaskContext, key string, values []string, emit engine.Emitter) error {
	word := keys.Unescape(key)
	tfs := make(map[string]float64, len(values))
	for _, v := range values {
		d, err := keys.DecodeDocCountTotal(v)
		if err != nil {
			if apperrors.IsRecoverable(err) {
				tc.Skip(reasonMalformed, v, err)
				continue
			}
			return err
		}
		if d.Total == 0 {
			return apperrors.Errorf(apperrors.ErrZeroTotal, "word %q in document %q", word, d.DocID)
		}
		if d.Count > d.Total {
			return apperrors.Errorf(apperrors.ErrInvalidNumber,
				"count %d exceeds total %d for word %q in document %q", d.Count, d.Total, word, d.DocID)
		}
		tfs[d.DocID] = float64(d.Count) / float64(d.Total)
	}
	if len(tfs) == 0 {
		return nil
	}

	df := int64(len(tfs))
	if df > s.documents {
		return apperrors.Errorf(apperrors.ErrInvalidInput,
			"word %q occurs in %d documents but the corpus has %d", word, df, s.documents)
	}
	idf := IDF(s.documents, df)

	docs := make([]string, 0, len(tfs))
	for doc := range tfs {
		docs = append(docs, doc)
	}
	sort.Strings(docs)
	for _, doc := range docs {
		emit(keys.WordDoc{Word: word, DocID: doc}.Encode(), keys.FormatScore(tfs[doc]*idf))
	}
	return nil
}

// IDF returns ln(documents / containing). It is zero when the word occurs in
// every document.
func IDF(documents, containing int64) float64 {
	return math.Log(float64(documents) / float64(containing))
}

// TFIDFJob builds the stage 3 job configured with the frozen document count.
func TFIDFJob(docs DocumentCount) engine.Job {
	stage := &TFIDF{}
	return engine.Job{
		Name:    NameTFIDF,
		Mapper:  stage,
		Reducer: stage,
		Conf: engine.Conf{
			ConfDocumentCount: strconv.FormatInt(docs.Value(), 10),
		},
	}
}
