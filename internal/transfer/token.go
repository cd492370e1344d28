package transfer

import (
	"encoding/json"
	"fmt"
	"time"
)

// token is the continuation record for a partial download. It is encoded
// to an opaque blob for the resume store.
type token struct {
	Version      int       `json:"version"`
	URL          string    `json:"url"`
	PartialName  string    `json:"partial_name"`
	BytesWritten int64     `json:"bytes_written"`
	BytesTotal   int64     `json:"bytes_total"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Resumable    bool      `json:"resumable"`
	CreatedAt    time.Time `json:"created_at"`
}

func (t *token) encode() ([]byte, error) {
	return json.Marshal(t)
}

func decodeToken(blob []byte) (*token, error) {
	var t token
	if err := json.Unmarshal(blob, &t); err != nil {
		return nil, fmt.Errorf("decode resume token: %w", err)
	}
	if t.PartialName == "" {
		return nil, fmt.Errorf("decode resume token: missing partial file name")
	}
	return &t, nil
}

// validator returns the If-Range value proving the remote file is unchanged.
func (t *token) validator() string {
	if t.ETag != "" {
		return t.ETag
	}
	return t.LastModified
}
