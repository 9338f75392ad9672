package sipfront

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/relayengine/internal/relay/worker"
)

type fakeEngine struct {
	offers []string
	ended  []string
	err    error
}

func (f *fakeEngine) Offer(_ context.Context, callID, legID, sdp string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.offers = append(f.offers, callID+"/"+legID)
	return "answer:" + sdp, nil
}

func (f *fakeEngine) End(_ context.Context, callID string) error {
	f.ended = append(f.ended, callID)
	return f.err
}

func newRequest(method sip.RequestMethod, callID, fromTag string, body []byte) *sip.Request {
	req := sip.NewRequest(method, sip.Uri{Scheme: "sip", User: "relay", Host: "127.0.0.1", Port: 5060})
	req.AppendHeader(&sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            "127.0.0.1",
		Port:            5070,
		Params:          sip.NewParams(),
	})
	fromParams := sip.NewParams()
	if fromTag != "" {
		fromParams.Add("tag", fromTag)
	}
	req.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{Scheme: "sip", User: "alice", Host: "example.com"},
		Params:  fromParams,
	})
	req.AppendHeader(&sip.ToHeader{
		Address: sip.Uri{Scheme: "sip", User: "relay", Host: "127.0.0.1"},
		Params:  sip.NewParams(),
	})
	if callID != "" {
		hdr := sip.CallIDHeader(callID)
		req.AppendHeader(&hdr)
	}
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: method})
	if body != nil {
		req.SetBody(body)
	}
	return req
}

func newFront(e Engine) *Front {
	return &Front{engine: e, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestInviteAnswered(t *testing.T) {
	fe := &fakeEngine{}
	f := newFront(fe)

	res := f.answerInvite(context.Background(), newRequest(sip.INVITE, "call-1", "ftag", []byte("v=0")))

	require.Equal(t, sip.StatusOK, res.StatusCode)
	assert.Equal(t, "answer:v=0", string(res.Body()))
	assert.Equal(t, []string{"call-1/ftag"}, fe.offers)

	ct := res.GetHeader("Content-Type")
	require.NotNil(t, ct)
	assert.Equal(t, "application/sdp", ct.Value())

	tag, ok := res.To().Params.Get("tag")
	require.True(t, ok)
	assert.Len(t, tag, 8)
}

func TestInviteRejected(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		req    *sip.Request
		status sip.StatusCode
	}{
		{"no pool", worker.ErrNoAvailablePort, newRequest(sip.INVITE, "c", "f", []byte("v=0")), sip.StatusServiceUnavailable},
		{"bad offer", errors.New("sdp: parse offer: no media"), newRequest(sip.INVITE, "c", "f", []byte("v=0")), sip.StatusNotAcceptable},
		{"no body", nil, newRequest(sip.INVITE, "c", "f", nil), sip.StatusNotAcceptable},
		{"no from tag", nil, newRequest(sip.INVITE, "c", "", []byte("v=0")), sip.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := &fakeEngine{err: tt.err}
			f := newFront(fe)

			res := f.answerInvite(context.Background(), tt.req)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Empty(t, res.Body())
		})
	}
}

func TestByeEndsCall(t *testing.T) {
	fe := &fakeEngine{}
	f := newFront(fe)

	res := f.answerBye(context.Background(), newRequest(sip.BYE, "call-1", "ftag", nil))
	assert.Equal(t, sip.StatusOK, res.StatusCode)
	assert.Equal(t, []string{"call-1"}, fe.ended)

	fe.err = errors.New("boom")
	res = f.answerBye(context.Background(), newRequest(sip.BYE, "call-1", "ftag", nil))
	assert.Equal(t, sip.StatusInternalServerError, res.StatusCode)
}
