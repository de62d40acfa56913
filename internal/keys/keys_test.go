package keys

import (
	"errors"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
)

func TestWordDocEncode(t *testing.T) {
	got := WordDoc{Word: "cat", DocID: "d1"}.Encode()
	if got != "cat@d1" {
		t.Errorf("expected cat@d1, got %q", got)
	}
}

func TestWordDocReservedCharacters(t *testing.T) {
	cases := []WordDoc{
		{Word: "user@example.com", DocID: "d1"},
		{Word: "a$b&c", DocID: "doc@2"},
		{Word: "100%", DocID: "d%40"},
		{Word: "tab\there", DocID: "d\n3"},
		{Word: "%2540", DocID: "x"},
	}
	for _, want := range cases {
		encoded := want.Encode()
		got, err := DecodeWordDoc(encoded)
		if err != nil {
			t.Fatalf("decoding %q: %v", encoded, err)
		}
		if got != want {
			t.Errorf("round trip mismatch: want %+v, got %+v (encoded %q)", want, got, encoded)
		}
	}
}

func TestDecodeWordDocMalformed(t *testing.T) {
	for _, in := range []string{"nodelimiter", "a@b@c", "@d1"} {
		_, err := DecodeWordDoc(in)
		if !errors.Is(err, apperrors.ErrMalformedIntermediate) {
			t.Errorf("DecodeWordDoc(%q): expected ErrMalformedIntermediate, got %v", in, err)
		}
	}
}

func TestEmptyDocumentIDRoundTrips(t *testing.T) {
	wd := WordDoc{Word: "cat"}
	if wd.Encode() != "cat@" {
		t.Fatalf("expected cat@, got %q", wd.Encode())
	}
	got, err := DecodeWordDoc("cat@")
	if err != nil || got != wd {
		t.Errorf("expected %+v, got %+v (%v)", wd, got, err)
	}

	dct, err := DecodeDocCountTotal("$1&3")
	if err != nil {
		t.Fatal(err)
	}
	if dct.DocID != "" || dct.Count != 1 || dct.Total != 3 {
		t.Errorf("unexpected %+v", dct)
	}
}

func TestWordCountCodec(t *testing.T) {
	v := WordCount{Word: "sat", Count: 3}
	if v.Encode() != "sat$3" {
		t.Fatalf("expected sat$3, got %q", v.Encode())
	}
	got, err := DecodeWordCount("sat$3")
	if err != nil {
		t.Fatal(err)
	}
	if got != v {
		t.Errorf("expected %+v, got %+v", v, got)
	}

	if _, err := DecodeWordCount("sat"); !errors.Is(err, apperrors.ErrMalformedIntermediate) {
		t.Errorf("missing separator: expected ErrMalformedIntermediate, got %v", err)
	}
	if _, err := DecodeWordCount("sat$three"); !errors.Is(err, apperrors.ErrInvalidNumber) {
		t.Errorf("bad count: expected ErrInvalidNumber, got %v", err)
	}
}

func TestDocCountTotalCodec(t *testing.T) {
	v := DocCountTotal{DocID: "d1", CountTotal: CountTotal{Count: 1, Total: 3}}
	if v.Encode() != "d1$1&3" {
		t.Fatalf("expected d1$1&3, got %q", v.Encode())
	}
	got, err := DecodeDocCountTotal("d1$1&3")
	if err != nil {
		t.Fatal(err)
	}
	if got != v {
		t.Errorf("expected %+v, got %+v", v, got)
	}

	if _, err := DecodeDocCountTotal("d1$13"); !errors.Is(err, apperrors.ErrMalformedIntermediate) {
		t.Errorf("missing &: expected ErrMalformedIntermediate, got %v", err)
	}
	if _, err := DecodeDocCountTotal("d1$1&-3"); !errors.Is(err, apperrors.ErrInvalidNumber) {
		t.Errorf("negative total: expected ErrInvalidNumber, got %v", err)
	}
}

func TestSplitRecord(t *testing.T) {
	k, v, err := SplitRecord(JoinRecord("cat@d1", "2"))
	if err != nil || k != "cat@d1" || v != "2" {
		t.Errorf("unexpected split: %q %q %v", k, v, err)
	}
	if _, _, err := SplitRecord("cat@d1 2"); !errors.Is(err, apperrors.ErrMalformedIntermediate) {
		t.Errorf("expected ErrMalformedIntermediate, got %v", err)
	}
}

func TestFormatScoreRoundTrip(t *testing.T) {
	for _, v := range []float64{0, 0.23104906018664842, 1.0 / 3.0, 1e-12} {
		got, err := ParseScore(FormatScore(v))
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Errorf("score %v did not round trip, got %v", v, got)
		}
	}
}
