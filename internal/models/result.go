package models

// ScoredChunk is a chunk with its similarity to the query.
type ScoredChunk struct {
	StartLine    int     `json:"start_line"`
	HeadingLevel int     `json:"heading_level"`
	HeadingTitle string  `json:"heading_title"`
	Length       int     `json:"length"`
	Similarity   float64 `json:"similarity"`
	Excerpt      string  `json:"excerpt,omitempty"`
}

// DocumentMatch is a ranked document with its matching chunks sorted by similarity, best first.
type DocumentMatch struct {
	DocumentID string         `json:"document_id"`
	Title      string         `json:"title,omitempty"`
	Chunks     []*ScoredChunk `json:"chunks"`
	Score      float64        `json:"score"`
}

// NearestResponse is the response for a nearest-neighbour request.
type NearestResponse struct {
	Matches   []*DocumentMatch `json:"matches"`
	Total     int              `json:"total"`
	QueryTime int64            `json:"query_time_ms"`
	Query     string           `json:"query"`
}
