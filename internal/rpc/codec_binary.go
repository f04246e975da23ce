package rpc

import "github.com/vmihailenco/msgpack/v5"

// BinaryCodec is the compact binary wire framing. On its own it decodes
// every reply as msgpack, whatever its Content-Type; wrapped as the
// preferred codec of a NegotiatingCodec with JSONCodec as fallback, the
// controller sends msgpack while still accepting JSON replies from a
// worker that chooses not to honor the preference.
type BinaryCodec struct{}

func NewBinaryCodec() *BinaryCodec { return &BinaryCodec{} }

func (BinaryCodec) ContentType() string { return "application/x-msgpack" }

func (BinaryCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (BinaryCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (c BinaryCodec) UnmarshalReply(_ string, data []byte, v interface{}) error {
	return c.Unmarshal(data, v)
}
