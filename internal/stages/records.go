package stages

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/keys"
)

// WordCountRecord is one line of stage 1 output.
type WordCountRecord struct {
	Word  string
	DocID string
	Count int64
}

func DecodeWordCountRecord(key, value string) (WordCountRecord, error) {
	wd, err := keys.DecodeWordDoc(key)
	if err != nil {
		return WordCountRecord{}, err
	}
	n, err := keys.ParseCount(value)
	if err != nil {
		return WordCountRecord{}, err
	}
	return WordCountRecord{Word: wd.Word, DocID: wd.DocID, Count: n}, nil
}

// TermFrequencyRecord is one line of stage 2 output.
type TermFrequencyRecord struct {
	Word  string
	DocID string
	Count int64
	Total int64
}

func (r TermFrequencyRecord) TF() float64 {
	return float64(r.Count) / float64(r.Total)
}

func DecodeTermFrequencyRecord(key, value string) (TermFrequencyRecord, error) {
	wd, err := keys.DecodeWordDoc(key)
	if err != nil {
		return TermFrequencyRecord{}, err
	}
	ct, err := keys.DecodeCountTotal(value)
	if err != nil {
		return TermFrequencyRecord{}, err
	}
	return TermFrequencyRecord{Word: wd.Word, DocID: wd.DocID, Count: ct.Count, Total: ct.Total}, nil
}

// Score is one line of stage 3 output: the TF-IDF weight of a word in a
// document.
type Score struct {
	Word  string  `json:"word"`
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

func DecodeScore(key, value string) (Score, error) {
	wd, err := keys.DecodeWordDoc(key)
	if err != nil {
		return Score{}, err
	}
	v, err := keys.ParseScore(value)
	if err != nil {
		return Score{}, err
	}
	return Score{Word: wd.Word, DocID: wd.DocID, Score: v}, nil
}

// RankScores orders scores by descending weight, breaking ties by document
// then word, and truncates to limit when limit > 0.
func RankScores(scores []Score, limit int) []Score {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		if scores[i].DocID != scores[j].DocID {
			return scores[i].DocID < scores[j].DocID
		}
		return scores[i].Word < scores[j].Word
	})
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}
