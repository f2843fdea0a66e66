package sse

import "encoding/json"

// Kind tags what a data payload decoded to.
type Kind int

const (
	// KindNone is a payload with nothing to deliver: an empty value, or a
	// JSON object without a token, content or text field.
	KindNone Kind = iota
	// KindToken is taken from the object's "token" field.
	KindToken
	// KindContent is taken from the object's "content" field.
	KindContent
	// KindText is taken from the object's "text" field.
	KindText
	// KindRaw is a payload that is not a JSON object, delivered verbatim.
	KindRaw
	// KindDone is the DoneSentinel.
	KindDone
	// KindError is an in-band {"type":"error"} record. Text holds its message.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindContent:
		return "content"
	case KindText:
		return "text"
	case KindRaw:
		return "raw"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "none"
	}
}

// Token is the decoded form of one data payload.
type Token struct {
	Kind Kind
	Text string
}

// HasText reports whether the token carries text to append to a transcript.
func (t Token) HasText() bool {
	switch t.Kind {
	case KindToken, KindContent, KindText, KindRaw:
		return true
	}
	return false
}

// tokenFields lists the object fields searched for token text, highest
// priority first.
var tokenFields = []struct {
	name string
	kind Kind
}{
	{"token", KindToken},
	{"content", KindContent},
	{"text", KindText},
}

// DecodeToken decodes a data payload. It never fails: anything that is not a
// JSON object comes back as KindRaw with the payload unchanged.
//
// For objects, the first non-empty string among "token", "content" and
// "text" wins. An object whose "type" is "error" decodes to KindError with
// the "message" (or "error") string as its text.
func DecodeToken(value string) Token {
	switch value {
	case "":
		return Token{Kind: KindNone}
	case DoneSentinel:
		return Token{Kind: KindDone}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(value), &obj); err != nil || obj == nil {
		return Token{Kind: KindRaw, Text: value}
	}

	if stringField(obj, "type") == "error" {
		msg := stringField(obj, "message")
		if msg == "" {
			msg = stringField(obj, "error")
		}
		return Token{Kind: KindError, Text: msg}
	}

	for _, f := range tokenFields {
		if s := stringField(obj, f.name); s != "" {
			return Token{Kind: f.kind, Text: s}
		}
	}
	return Token{Kind: KindNone}
}

func stringField(obj map[string]json.RawMessage, name string) string {
	raw, ok := obj[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
