package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"tether/internal/queue"
)

// documentVersion is bumped whenever the document layout changes.
const documentVersion = 1

type document struct {
	Version  int             `json:"version"`
	Requests []queue.Request `json:"requests"`
}

func encodeDocument(requests []queue.Request) ([]byte, error) {
	if requests == nil {
		requests = []queue.Request{}
	}
	data, err := json.Marshal(document{Version: documentVersion, Requests: requests})
	if err != nil {
		return nil, fmt.Errorf("encode queue document: %w", err)
	}
	return data, nil
}

// decodeDocument parses a stored document. Empty input means nothing is stored.
func decodeDocument(data []byte) ([]queue.Request, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []queue.Request{}, nil
	}
	var doc document
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("%w: document version %d, expected %d", ErrCorrupt, doc.Version, documentVersion)
	}
	if doc.Requests == nil {
		doc.Requests = []queue.Request{}
	}
	return doc.Requests, nil
}
