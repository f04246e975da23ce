package rpc

import "strings"

// NegotiatingCodec implements asymmetric framing: the controller prefers
// one framing on the wire via Accept/Content-Type negotiation but accepts
// either in replies. Outbound requests (Marshal, ContentType) always use
// Preferred; inbound replies
// (UnmarshalReply) are decoded with whichever codec matches the peer's
// declared Content-Type, falling back to Preferred when the header is
// missing or unrecognized -- a worker is free to ignore the Accept header
// and reply in the other framing.
type NegotiatingCodec struct {
	Preferred Codec
	Fallback  Codec
}

// NewNegotiatingCodec builds a Codec that sends with preferred and accepts
// replies in either preferred's or fallback's framing.
func NewNegotiatingCodec(preferred, fallback Codec) *NegotiatingCodec {
	return &NegotiatingCodec{Preferred: preferred, Fallback: fallback}
}

func (c *NegotiatingCodec) ContentType() string { return c.Preferred.ContentType() }

func (c *NegotiatingCodec) Marshal(v interface{}) ([]byte, error) {
	return c.Preferred.Marshal(v)
}

func (c *NegotiatingCodec) Unmarshal(data []byte, v interface{}) error {
	return c.Preferred.Unmarshal(data, v)
}

// UnmarshalReply sniffs the reply's declared Content-Type and decodes with
// whichever codec matches; an empty or unrecognized header falls back to
// Preferred, since a worker honoring Accept won't bother echoing it back.
func (c *NegotiatingCodec) UnmarshalReply(contentType string, data []byte, v interface{}) error {
	ct := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	switch {
	case ct == "", ct == c.Preferred.ContentType():
		return c.Preferred.Unmarshal(data, v)
	case ct == c.Fallback.ContentType():
		return c.Fallback.Unmarshal(data, v)
	default:
		return c.Preferred.Unmarshal(data, v)
	}
}
