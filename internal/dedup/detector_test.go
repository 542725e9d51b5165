package dedup

import (
	"testing"

	"github.com/keelcore/keelcore/internal/fingerprint"
)

func candidateFor(content string) Candidate {
	return Candidate{
		Content:     content,
		Fingerprint: fingerprint.Exact(content),
		TopicHash:   fingerprint.Topic(content),
	}
}

func entryFor(content string) *Entry {
	return &Entry{
		Content:     content,
		Fingerprint: fingerprint.Exact(content),
		TopicHash:   fingerprint.Topic(content),
	}
}

func TestExactDetector(t *testing.T) {
	d := ExactDetector{}
	if !d.Match(candidateFor("Hello World"), entryFor("hello world!!")) {
		t.Fatal("normalized-equal content should match")
	}
	if d.Match(candidateFor("hello world"), entryFor("goodbye world")) {
		t.Fatal("different content should not match")
	}
	if d.Match(candidateFor("x"), &Entry{Content: "x"}) {
		t.Fatal("an entry without a fingerprint never matches")
	}
}

func TestTopicDetector(t *testing.T) {
	d := TopicDetector{}
	c := candidateFor("KR8TIV surging 20% on volume")
	if !d.Match(c, entryFor("KR8TIV spiking hard 20% volume wave")) {
		t.Fatal("paraphrases of the same subject should share a topic")
	}
	if d.Match(c, entryFor("BONK dumping 50% overnight")) {
		t.Fatal("different entities should not share a topic")
	}
}

func TestSimilarityDetectorThreshold(t *testing.T) {
	a := "the quick brown fox jumps"
	b := "the quick brown fox leaps"

	score := fingerprint.Similarity(a, b)

	loose := SimilarityDetector{Threshold: score - 0.01}
	if !loose.Match(candidateFor(a), entryFor(b)) {
		t.Fatalf("score %.2f should pass a lower threshold", score)
	}

	strict := SimilarityDetector{Threshold: score + 0.01}
	if strict.Match(candidateFor(a), entryFor(b)) {
		t.Fatalf("score %.2f should fail a higher threshold", score)
	}
}

func TestSimilarityDetectorCustomFn(t *testing.T) {
	d := SimilarityDetector{
		Threshold: 0.5,
		Fn:        func(a, b string) float64 { return 1.0 },
	}
	if !d.Match(candidateFor("anything"), entryFor("else entirely")) {
		t.Fatal("custom scorer should be honored")
	}
}
