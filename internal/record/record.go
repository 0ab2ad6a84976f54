// Package record encodes negotiation records (offer, answer, join request)
// into compact text tokens that can be copied between participants by hand
// or dropped into a shared store.
package record

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Type tags a negotiation record.
type Type string

const (
	TypeOffer   Type = "offer"
	TypeAnswer  Type = "answer"
	TypeRequest Type = "request"
)

var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrUnknownRecordType = errors.New("unknown record type")
)

// DecodeError is returned by Decode. It wraps one of the sentinel errors above.
type DecodeError struct {
	Err    error
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("decode record: %v (%s)", e.Err, e.Detail)
	}
	return fmt.Sprintf("decode record: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Record is one step of establishing a link. The SDP payload is opaque to
// this package.
type Record struct {
	Type      Type   `json:"type"`
	RoomID    string `json:"roomId"`
	SDP       string `json:"sdp,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	From      string `json:"from,omitempty"`

	// InReplyTo is the ID of the offer an answer was generated for.
	InReplyTo string `json:"inReplyTo,omitempty"`
}

// New creates a record stamped with the current time in milliseconds.
func New(t Type, roomID, sdp, from string) Record {
	return Record{
		Type:      t,
		RoomID:    roomID,
		SDP:       sdp,
		Timestamp: time.Now().UnixMilli(),
		From:      from,
	}
}

// Valid reports whether t is one of the known record types.
func (t Type) Valid() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeRequest:
		return true
	}
	return false
}

// ID identifies a record for at-most-once processing.
func (r Record) ID() string {
	return fmt.Sprintf("%s/%s/%s/%d", r.Type, r.RoomID, r.From, r.Timestamp)
}

// Encode serializes the record as base64 encoded JSON. It refuses records
// Decode would reject, and strings that are not valid UTF-8 since JSON
// would silently replace the bad bytes.
func Encode(r Record) (string, error) {
	if !r.Type.Valid() {
		return "", fmt.Errorf("encode record: %w: %q", ErrUnknownRecordType, r.Type)
	}
	if r.RoomID == "" {
		return "", fmt.Errorf("encode record: %w: missing room id", ErrMalformedToken)
	}
	for _, f := range []string{r.RoomID, r.SDP, r.From, r.InReplyTo} {
		if !utf8.ValidString(f) {
			return "", fmt.Errorf("encode record: %w: invalid UTF-8", ErrMalformedToken)
		}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses a token produced by Encode. Surrounding whitespace, missing
// padding and the URL-safe alphabet are tolerated since tokens are often
// mangled by chat clients on their way between people.
func Decode(token string) (Record, error) {
	token = strings.Join(strings.Fields(token), "")
	if token == "" {
		return Record{}, &DecodeError{Err: ErrMalformedToken, Detail: "empty token"}
	}

	data, err := decodeBase64(token)
	if err != nil {
		return Record{}, &DecodeError{Err: ErrMalformedToken, Detail: "not base64"}
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, &DecodeError{Err: ErrMalformedToken, Detail: "not a JSON record"}
	}
	if !r.Type.Valid() {
		return Record{}, &DecodeError{Err: ErrUnknownRecordType, Detail: string(r.Type)}
	}
	if r.RoomID == "" {
		return Record{}, &DecodeError{Err: ErrMalformedToken, Detail: "missing room id"}
	}
	return r, nil
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
