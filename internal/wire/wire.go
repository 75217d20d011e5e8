// Package wire implements the framed control protocol spoken between the
// relay server and the client agent. A frame is a 10-byte ASCII decimal
// length header, right-justified with leading spaces, followed by a JSON
// message body.
package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/subwaynet/subway/pkg/errors"
)

// Message types exchanged on control and data channels.
const (
	TypeHello  = "hello"
	TypeOpen   = "open"
	TypeAccept = "accept"
	TypeClose  = "close"
)

const (
	// HeaderLen is the fixed size of the length header.
	HeaderLen = 10
	// MaxFrame caps the body length a peer may announce.
	MaxFrame = 1 << 20
)

// Message is the wire message. Unknown JSON fields are ignored on read;
// absent optional fields are omitted on write.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Subdomain string `json:"subdomain,omitempty"`
}

// KnownType reports whether t is one of the protocol tags.
func KnownType(t string) bool {
	switch t {
	case TypeHello, TypeOpen, TypeAccept, TypeClose:
		return true
	}
	return false
}

// Encode serializes msg into a single header+body frame.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxFrame {
		return nil, errors.Newf(errors.CodeFrame, "frame body %d exceeds max %d", len(body), MaxFrame)
	}
	frame := make([]byte, 0, HeaderLen+len(body))
	frame = append(frame, fmt.Sprintf("%*d", HeaderLen, len(body))...)
	frame = append(frame, body...)
	return frame, nil
}

// Write emits msg on w as a single send.
func Write(w io.Writer, msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return errors.Wrap(errors.CodeTransport, "frame write", err)
	}
	return nil
}

// Reader decodes a sequence of frames from a byte stream. One Reader per
// stream; frame reads are not safe for concurrent use.
type Reader struct {
	r io.Reader
}

// NewReader creates a frame reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads one frame. It returns io.EOF on a clean end of stream before a
// new header; every malformed frame yields an AppError with the frame code.
func (rd *Reader) Next() (Message, error) {
	header := make([]byte, HeaderLen)
	if _, err := io.ReadFull(rd.r, header); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, errors.Wrap(errors.CodeFrame, "short read in frame header", err)
	}

	length, err := strconv.Atoi(strings.TrimSpace(string(header)))
	if err != nil {
		return Message{}, errors.Wrap(errors.CodeFrame, "frame header not an integer", err)
	}
	if length < 0 || length > MaxFrame {
		return Message{}, errors.Newf(errors.CodeFrame, "frame length %d out of range", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(rd.r, body); err != nil {
		return Message{}, errors.Wrap(errors.CodeFrame, "short read in frame body", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, errors.Wrap(errors.CodeFrame, "frame body not valid JSON", err)
	}
	if !KnownType(msg.Type) {
		return Message{}, errors.Newf(errors.CodeFrame, "unknown message type %q", msg.Type)
	}
	return msg, nil
}
