package models

// ScoredChunk is one ranked retrieval hit: the chunk text with its
// similarity score and source reference.
type ScoredChunk struct {
	Text   string  `json:"text"`
	Score  float32 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// RetrievalResult is the per-corpus outcome of a retrieve call. Either
// Entries holds the ranked hits (possibly empty), or Unavailable is set
// with the cause - the two cases are distinguishable so callers can tell
// "no matches" from "source unreachable".
type RetrievalResult struct {
	CorpusTag   string        `json:"corpus_tag"`
	Entries     []ScoredChunk `json:"entries"`
	Unavailable bool          `json:"unavailable,omitempty"`
	Cause       string        `json:"cause,omitempty"`
}
