package dedup

import (
	"github.com/keelcore/keelcore/internal/fingerprint"
)

// Candidate carries the precomputed hashes of the content being checked.
type Candidate struct {
	Content     string
	Fingerprint string
	TopicHash   string
}

// Detector decides whether a stored entry duplicates a candidate. Detectors
// run in a fixed order; the first match wins, so exact beats topic beats
// similarity.
type Detector interface {
	// Name is the reason string reported on a match.
	Name() string
	Match(c Candidate, e *Entry) bool
}

// ExactDetector matches entries with an identical normalized fingerprint.
type ExactDetector struct{}

func (ExactDetector) Name() string { return ReasonExact }

func (ExactDetector) Match(c Candidate, e *Entry) bool {
	return e.Fingerprint != "" && e.Fingerprint == c.Fingerprint
}

// TopicDetector matches entries sharing the coarser topic hash, catching
// paraphrases of the same subject.
type TopicDetector struct{}

func (TopicDetector) Name() string { return ReasonTopic }

func (TopicDetector) Match(c Candidate, e *Entry) bool {
	return e.TopicHash != "" && e.TopicHash == c.TopicHash
}

// SimilarityDetector matches entries whose content scores at or above the
// threshold under the configured similarity function.
type SimilarityDetector struct {
	Threshold float64
	Fn        fingerprint.Func
}

func (SimilarityDetector) Name() string { return ReasonSimilarity }

func (d SimilarityDetector) Match(c Candidate, e *Entry) bool {
	fn := d.Fn
	if fn == nil {
		fn = fingerprint.Similarity
	}
	return fn(c.Content, e.Content) >= d.Threshold
}
