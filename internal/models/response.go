// Package models defines the payloads learned and returned by the response store.
package models

import (
	"errors"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// ErrEmptyBucket is returned when decoding a bucket that holds no responses.
var ErrEmptyBucket = errors.New("response bucket is empty")

// Response is an opaque reply: plain text plus an optional HTML rendering.
type Response struct {
	Plain string `json:"plain"`
	HTML  string `json:"html,omitempty"`
}

// Bucket is every response learned for one exact prompt vector, in insertion order.
type Bucket []Response

const (
	fieldPlain = "plain"
	fieldHTML  = "html"
)

// MarshalMsg appends r as a MessagePack map. A missing HTML rendering is written as nil.
func (r Response) MarshalMsg(o []byte) ([]byte, error) {
	o = msgp.AppendMapHeader(o, 2)
	o = msgp.AppendString(o, fieldPlain)
	o = msgp.AppendString(o, r.Plain)
	o = msgp.AppendString(o, fieldHTML)
	if r.HTML == "" {
		o = msgp.AppendNil(o)
	} else {
		o = msgp.AppendString(o, r.HTML)
	}
	return o, nil
}

// UnmarshalMsg decodes a response from the front of bts. Unknown fields are skipped.
func (r *Response) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, fmt.Errorf("read response header: %w", err)
	}
	var out Response
	for i := uint32(0); i < n; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, fmt.Errorf("read response field name: %w", err)
		}
		switch field {
		case fieldPlain:
			out.Plain, bts, err = msgp.ReadStringBytes(bts)
		case fieldHTML:
			if msgp.IsNil(bts) {
				bts, err = msgp.ReadNilBytes(bts)
			} else {
				out.HTML, bts, err = msgp.ReadStringBytes(bts)
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, fmt.Errorf("read response field %q: %w", field, err)
		}
	}
	*r = out
	return bts, nil
}

// MarshalMsg appends b as a MessagePack array of responses.
func (b Bucket) MarshalMsg(o []byte) ([]byte, error) {
	o = msgp.AppendArrayHeader(o, uint32(len(b)))
	for _, r := range b {
		var err error
		if o, err = r.MarshalMsg(o); err != nil {
			return o, err
		}
	}
	return o, nil
}

// UnmarshalMsg decodes a bucket from the front of bts.
func (b *Bucket) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return bts, fmt.Errorf("read bucket header: %w", err)
	}
	if int(n) > len(bts) {
		// every response takes at least one byte
		return bts, fmt.Errorf("read bucket: %d responses declared, %d bytes left: %w", n, len(bts), msgp.ErrShortBytes)
	}
	out := make(Bucket, n)
	for i := range out {
		if bts, err = out[i].UnmarshalMsg(bts); err != nil {
			return bts, fmt.Errorf("response %d: %w", i, err)
		}
	}
	*b = out
	return bts, nil
}

// DecodeBucket decodes a stored bucket value. Trailing bytes and empty
// buckets are treated as corruption since the store never writes either.
func DecodeBucket(data []byte) (Bucket, error) {
	var b Bucket
	rest, err := b.UnmarshalMsg(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("bucket has %d trailing bytes", len(rest))
	}
	if len(b) == 0 {
		return nil, ErrEmptyBucket
	}
	return b, nil
}

// AppendEncoded decodes the stored bucket in data (nil means no bucket yet),
// appends r and returns the new encoding. It is the read-modify-write step
// every response table backend runs inside its transaction.
func AppendEncoded(data []byte, r Response) ([]byte, error) {
	var b Bucket
	if data != nil {
		var err error
		if b, err = DecodeBucket(data); err != nil {
			return nil, err
		}
	}
	b = append(b, r)
	return b.MarshalMsg(nil)
}
