package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindText   Kind = "text"
	KindFile   Kind = "file"
	KindStream Kind = "stream"
	KindSignal Kind = "signal"
)

const (
	PlaceholderMissingKey       = "[Encrypted message - missing key]"
	PlaceholderDecryptionFailed = "[Encrypted message - decryption failed]"
)

var (
	ErrUnknownKind = errors.New("unknown document kind")
	ErrMissingBody = errors.New("document has no body")
)

// Body is the kind-specific part of a Document. Exactly one implementation
// exists per Kind.
type Body interface {
	Kind() Kind
}

type TextBody struct {
	Text string `json:"text"`
}

// FileBody references a file; binary content is optional and only carried
// for small files.
type FileBody struct {
	FileID      string `json:"fileId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Content     []byte `json:"content,omitempty"`
}

// StreamBody shares a playable URL with the room. The URL is never
// encrypted so every member can open it.
type StreamBody struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// SignalBody carries a call-signaling blob (offer or answer SDP).
type SignalBody struct {
	Signal string `json:"signal"`
	SDP    string `json:"sdp"`
}

func (TextBody) Kind() Kind   { return KindText }
func (FileBody) Kind() Kind   { return KindFile }
func (StreamBody) Kind() Kind { return KindStream }
func (SignalBody) Kind() Kind { return KindSignal }

// Document is one chat/call/file/stream message. It is immutable once
// inserted; Decrypted and DecryptError are local annotations and are never
// serialized.
type Document struct {
	ID          string
	RoomID      RoomID
	RoomName    string
	Sender      string
	Timestamp   int64 // unix milliseconds
	IsEncrypted bool
	IsSecure    bool
	Body        Body

	Decrypted    Body   `json:"-"`
	DecryptError string `json:"-"`
}

func (d Document) RecordID() string { return d.ID }

func (d Document) Kind() Kind {
	if d.Body == nil {
		return ""
	}
	return d.Body.Kind()
}

// Visible returns the body a reader should see: the decrypted annotation
// when present, the stored body for plaintext documents, and nil when the
// document is encrypted and could not be opened.
func (d Document) Visible() Body {
	if d.Decrypted != nil {
		return d.Decrypted
	}
	if d.IsEncrypted {
		return nil
	}
	return d.Body
}

// Summary renders the document as a single line of text.
func (d Document) Summary() string {
	b := d.Visible()
	if b == nil {
		if d.DecryptError != "" {
			return d.DecryptError
		}
		return PlaceholderMissingKey
	}
	switch v := b.(type) {
	case TextBody:
		return v.Text
	case FileBody:
		return fmt.Sprintf("[file] %s (%d bytes)", v.Name, v.Size)
	case StreamBody:
		return "[stream] " + v.URL
	case SignalBody:
		return "[signal] " + v.Signal
	default:
		return ""
	}
}

type documentJSON struct {
	ID          string          `json:"id"`
	RoomID      RoomID          `json:"roomId,omitempty"`
	RoomName    string          `json:"roomName,omitempty"`
	Kind        Kind            `json:"kind"`
	Sender      string          `json:"sender"`
	Timestamp   int64           `json:"timestamp"`
	IsEncrypted bool            `json:"isEncrypted"`
	IsSecure    bool            `json:"isSecure"`
	Payload     json.RawMessage `json:"payload"`
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.Body == nil {
		return nil, ErrMissingBody
	}
	payload, err := json.Marshal(d.Body)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", d.Body.Kind(), err)
	}
	return json.Marshal(documentJSON{
		ID:          d.ID,
		RoomID:      d.RoomID,
		RoomName:    d.RoomName,
		Kind:        d.Body.Kind(),
		Sender:      d.Sender,
		Timestamp:   d.Timestamp,
		IsEncrypted: d.IsEncrypted,
		IsSecure:    d.IsSecure,
		Payload:     payload,
	})
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw documentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	body, err := DecodeBody(raw.Kind, raw.Payload)
	if err != nil {
		return err
	}
	*d = Document{
		ID:          raw.ID,
		RoomID:      raw.RoomID,
		RoomName:    raw.RoomName,
		Sender:      raw.Sender,
		Timestamp:   raw.Timestamp,
		IsEncrypted: raw.IsEncrypted,
		IsSecure:    raw.IsSecure,
		Body:        body,
	}
	return nil
}

// DecodeBody builds the Body variant for kind from its JSON payload.
func DecodeBody(kind Kind, payload []byte) (Body, error) {
	switch kind {
	case KindText:
		var b TextBody
		err := decodePayload(payload, &b)
		return b, err
	case KindFile:
		var b FileBody
		err := decodePayload(payload, &b)
		return b, err
	case KindStream:
		var b StreamBody
		err := decodePayload(payload, &b)
		return b, err
	case KindSignal:
		var b SignalBody
		err := decodePayload(payload, &b)
		return b, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func decodePayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return ErrMissingBody
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
