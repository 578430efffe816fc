package codec

import (
	"encoding/json"
	"fmt"
)

// Serializer encodes documents for the bulk API. CanEncode is the probe used
// during recovery: it only reports whether v as a whole can be encoded.
type Serializer interface {
	Encode(v any) ([]byte, error)
	CanEncode(v any) bool
}

type jsonSerializer struct{}

// JSON returns the encoding/json backed serializer used for OpenSearch
// documents. Panics raised by MarshalJSON or Error methods are returned as
// errors.
func JSON() Serializer {
	return jsonSerializer{}
}

func (jsonSerializer) Encode(v any) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("panic while encoding %T: %v", v, r)
		}
	}()

	data, err = json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return data, nil
}

func (s jsonSerializer) CanEncode(v any) bool {
	_, err := s.Encode(v)
	return err == nil
}
