// Package ngcontrol speaks the NG control protocol: every datagram is a
// transaction cookie, one space, and a bencoded dictionary. Replies echo the
// cookie.
package ngcontrol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/jackpal/bencode-go"

	"github.com/sebas/relayengine/internal/relay/worker"
)

// ErrMalformed is returned for datagrams that are not "<cookie> <dict>".
var ErrMalformed = errors.New("ngcontrol: malformed message")

// Command names.
const (
	CommandPing   = "ping"
	CommandOffer  = "offer"
	CommandAnswer = "answer"
	CommandDelete = "delete"
)

// Result values.
const (
	ResultPong  = "pong"
	ResultOK    = "ok"
	ResultError = "error"
)

// Message is one decoded request.
type Message struct {
	Cookie  string
	Command string
	CallID  string
	FromTag string
	ToTag   string
	SDP     string
	ICE     string
}

// Reply is one response dictionary.
type Reply struct {
	Result      string
	SDP         string
	ErrorReason string
}

// Decode splits a datagram into cookie and dictionary and reads the known
// keys. Unknown keys are ignored.
func Decode(data []byte) (*Message, error) {
	cookie, body, ok := bytes.Cut(data, []byte(" "))
	if !ok || len(cookie) == 0 {
		return nil, fmt.Errorf("%w: missing cookie", ErrMalformed)
	}
	v, err := bencode.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	dict, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: body is not a dictionary", ErrMalformed)
	}

	m := &Message{Cookie: string(cookie)}
	for key, dst := range map[string]*string{
		"command":  &m.Command,
		"call-id":  &m.CallID,
		"from-tag": &m.FromTag,
		"to-tag":   &m.ToTag,
		"sdp":      &m.SDP,
		"ICE":      &m.ICE,
	} {
		raw, present := dict[key]
		if !present {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a string", ErrMalformed, key)
		}
		*dst = s
	}
	if m.Command == "" {
		return nil, fmt.Errorf("%w: missing command", ErrMalformed)
	}
	return m, nil
}

// Request maps the message onto a worker request. offer creates the
// caller's leg (from-tag), answer the callee's (to-tag).
func (m *Message) Request() worker.Request {
	switch strings.ToLower(m.Command) {
	case CommandPing:
		return worker.Ping{}
	case CommandOffer:
		return worker.Call{CallID: m.CallID, LegID: m.FromTag, SDP: m.SDP}
	case CommandAnswer:
		return worker.Call{CallID: m.CallID, LegID: m.ToTag, SDP: m.SDP}
	case CommandDelete:
		return worker.End{CallID: m.CallID}
	default:
		return worker.Unknown{Command: m.Command}
	}
}

// ReplyFor renders a worker response.
func ReplyFor(resp worker.Response) Reply {
	switch r := resp.(type) {
	case worker.Pong:
		return Reply{Result: ResultPong}
	case worker.Answer:
		return Reply{Result: ResultOK, SDP: r.SDP}
	case worker.Ended:
		return Reply{Result: ResultOK}
	case worker.Error:
		return Reply{Result: ResultError, ErrorReason: r.Reason}
	default:
		return Reply{Result: ResultError, ErrorReason: fmt.Sprintf("unexpected response %T", resp)}
	}
}

// Encode renders "<cookie> <dict>".
func Encode(cookie string, r Reply) ([]byte, error) {
	dict := map[string]interface{}{"result": r.Result}
	if r.SDP != "" {
		dict["sdp"] = r.SDP
	}
	if r.ErrorReason != "" {
		dict["error-reason"] = r.ErrorReason
	}
	var buf bytes.Buffer
	buf.WriteString(cookie)
	buf.WriteByte(' ')
	if err := bencode.Marshal(&buf, dict); err != nil {
		return nil, fmt.Errorf("ngcontrol: encode reply: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeRequest renders a client request; used by relayctl.
func EncodeRequest(m *Message) ([]byte, error) {
	dict := map[string]interface{}{"command": m.Command}
	for key, val := range map[string]string{
		"call-id":  m.CallID,
		"from-tag": m.FromTag,
		"to-tag":   m.ToTag,
		"sdp":      m.SDP,
		"ICE":      m.ICE,
	} {
		if val != "" {
			dict[key] = val
		}
	}
	var buf bytes.Buffer
	buf.WriteString(m.Cookie)
	buf.WriteByte(' ')
	if err := bencode.Marshal(&buf, dict); err != nil {
		return nil, fmt.Errorf("ngcontrol: encode request: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeReply parses a server reply; used by relayctl.
func DecodeReply(data []byte) (string, Reply, error) {
	cookie, body, ok := bytes.Cut(data, []byte(" "))
	if !ok {
		return "", Reply{}, fmt.Errorf("%w: missing cookie", ErrMalformed)
	}
	v, err := bencode.Decode(bytes.NewReader(body))
	if err != nil {
		return "", Reply{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	dict, ok := v.(map[string]interface{})
	if !ok {
		return "", Reply{}, fmt.Errorf("%w: body is not a dictionary", ErrMalformed)
	}
	str := func(key string) string {
		s, _ := dict[key].(string)
		return s
	}
	return string(cookie), Reply{
		Result:      str("result"),
		SDP:         str("sdp"),
		ErrorReason: str("error-reason"),
	}, nil
}
