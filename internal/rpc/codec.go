package rpc

// Codec round-trips the wire message types: TaskStatus, TaskInfo,
// TaskUpdateRequest, and the DELETE response (also a TaskInfo). The core
// consumes this as an injected capability rather than a concrete
// JSON/binary choice baked into the controller.
type Codec interface {
	// ContentType is sent as the Content-Type / Accept header value.
	ContentType() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	// UnmarshalReply decodes a reply body, given the Content-Type the peer
	// actually sent. A single-codec implementation ignores contentType and
	// behaves exactly like Unmarshal; NegotiatingCodec uses it to accept
	// either framing in replies while still preferring one on requests.
	UnmarshalReply(contentType string, data []byte, v interface{}) error
}

// JSONCodec and BinaryCodec must produce equivalent objects -- see
// codec_test.go for the round-trip equivalence check.
