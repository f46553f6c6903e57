package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrBadAnchor = errors.New("anchor hash must be 64 lowercase hex characters")

// ExportChain renders the retained window as pipe-delimited lines:
//
//	chain_hash|btc_height_or_offline|ISO8601_timestamp|event_description
func (l *Log) ExportChain() string {
	entries := l.Entries()
	var b strings.Builder
	for _, e := range entries {
		height := "offline"
		if e.Anchor != nil {
			height = fmt.Sprintf("%d", e.Anchor.Height)
		}
		fmt.Fprintf(&b, "%s|%s|%s|%s\n",
			e.ChainHash,
			height,
			e.Timestamp.Format(time.RFC3339),
			e.Event.Description(),
		)
	}
	return b.String()
}

// ExportJSON renders the retained window as a JSON array of full entries.
func (l *Log) ExportJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}
