package queue

import (
	"github.com/OFFIS-RIT/scholargraph/pkg/ingest"
)

// IngestMsg asks the worker to ingest an upload that the server already
// stored under RawKey.
type IngestMsg struct {
	DocID    string          `json:"doc_id"`
	UserID   string          `json:"user_id"`
	Filename string          `json:"filename"`
	RawKey   string          `json:"raw_key"`
	FileHash string          `json:"file_hash"`
	IsPublic bool            `json:"is_public"`
	Metadata ingest.Metadata `json:"metadata"`
}

type DeleteMsg struct {
	DocID  string `json:"doc_id"`
	UserID string `json:"user_id"`
}
