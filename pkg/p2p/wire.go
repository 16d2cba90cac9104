package p2p

import (
	"bytes"
	"encoding/gob"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

func init() {
	gob.Register(EventWire{})
}

// EventWire is the gossip payload. Origin is the publishing peer so
// indexers can tell sources apart when several nodes share a topic.
type EventWire struct {
	Origin string
	Event  types.Event
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
