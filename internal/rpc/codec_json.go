package rpc

import "encoding/json"

// JSONCodec is the textual wire framing. It is always accepted on replies
// even when BinaryCodec is preferred on requests.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (c JSONCodec) UnmarshalReply(_ string, data []byte, v interface{}) error {
	return c.Unmarshal(data, v)
}
