package protocol

import (
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Verum protocol versions. A payload is accepted when it declares the
// current version or the immediately preceding compatible one.
const (
	Version       = "1.1"
	LegacyVersion = "1.0"
)

// nullDataMarker is the ledger's null-data opcode prefix carried by
// data outputs.
const nullDataMarker = "6a"

type PayloadType string

const (
	TypeStart       PayloadType = "start"
	TypePost        PayloadType = "post"
	TypeStory       PayloadType = "story"
	TypeComment     PayloadType = "comment"
	TypeLike        PayloadType = "like"
	TypeSubscribe   PayloadType = "subscribe"
	TypeUnsubscribe PayloadType = "unsubscribe"
)

// Payload is the Verum object embedded in a transaction's data field.
// Segment fields are only meaningful for story payloads; unrecognized
// extra wire fields are ignored for forward compatibility.
type Payload struct {
	Version       string      `json:"verum"`
	Type          PayloadType `json:"type"`
	Content       string      `json:"content,omitempty"`
	ParentID      string      `json:"parent_id,omitempty"`
	PrevTxID      string      `json:"prev_tx_id,omitempty"`
	Segment       int         `json:"segment,omitempty"`
	TotalSegments int         `json:"total_segments,omitempty"`
	IsFinal       bool        `json:"is_final,omitempty"`
}

// IsSubscription reports whether the payload mutates the author's
// subscription set.
func (p *Payload) IsSubscription() bool {
	return p.Type == TypeSubscribe || p.Type == TypeUnsubscribe
}

// DecodePayload decodes a raw transaction data field into a Verum payload.
// It returns nil for anything that is not a valid, version-compatible
// protocol payload; it never fails loudly, since foreign and malformed
// payloads are expected on a shared ledger.
func DecodePayload(raw string) *Payload {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	if isHexString(text) {
		text = strings.TrimPrefix(text, nullDataMarker)
		decoded, err := hex.DecodeString(text)
		if err != nil {
			return nil
		}
		text = strings.ToValidUTF8(string(decoded), "�")
	}
	obj := firstJSONObject(text)
	if obj == "" {
		return nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return nil
	}
	if !versionAccepted(p.Version) {
		return nil
	}
	switch p.Type {
	case TypeStart, TypePost, TypeStory, TypeComment, TypeLike, TypeSubscribe, TypeUnsubscribe:
	default:
		return nil
	}
	return &p
}

// ParseTransaction derives the per-transaction projection: decoded payload
// plus inferred author. Returns nil when the transaction carries no valid
// protocol payload.
func ParseTransaction(tx RawTransaction) *ParsedTransaction {
	payload := DecodePayload(tx.PayloadData)
	if payload == nil {
		return nil
	}
	return &ParsedTransaction{
		TransactionID: tx.ID,
		AuthorAddress: InferAuthor(tx, payload),
		BlockTime:     tx.BlockTime,
		Accepted:      tx.Accepted,
		Payload:       payload,
	}
}

func versionAccepted(v string) bool {
	return v == Version || v == LegacyVersion
}

func isHexString(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// firstJSONObject extracts the first balanced top-level JSON object from
// text. Protocol payloads may be embedded alongside other data, so the
// scan tracks brace depth while skipping string literals and escapes.
func firstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
