// Package models defines core data structures for notes, chunks, model identities and query results.
package models

import "time"

// Document is a note as read from the host document source.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Tags      []string  `json:"tags,omitempty"`
	Folder    string    `json:"folder,omitempty"`
	Path      string    `json:"path,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentPage is one page of a paged document listing.
type DocumentPage struct {
	Items   []*Document `json:"items"`
	HasMore bool        `json:"has_more"`
}

// RawBlock is a contiguous span of a note produced by the chunker, before embedding.
type RawBlock struct {
	StartLine    int    `json:"start_line"`
	HeadingLevel int    `json:"heading_level"`
	HeadingTitle string `json:"heading_title"`
	Text         string `json:"text"`
	IsCode       bool   `json:"is_code"`
}

// Chunk is a stored block with its embedding. Chunks are replaced wholesale
// when the content hash of their document changes and never mutated in place.
type Chunk struct {
	DocumentID   string    `json:"document_id"`
	Seq          int       `json:"seq"`
	StartLine    int       `json:"start_line"`
	HeadingLevel int       `json:"heading_level"`
	HeadingTitle string    `json:"heading_title"`
	Length       int       `json:"length"`
	Vector       []float32 `json:"-"`
	ContentHash  string    `json:"content_hash,omitempty"`
	Model        ModelKey  `json:"model,omitempty"`
}

// DocumentRecord tracks which content hash produced the stored chunks of a
// document under one model identity.
type DocumentRecord struct {
	DocumentID  string   `json:"document_id"`
	ContentHash string   `json:"content_hash"`
	Model       ModelKey `json:"model"`
}
