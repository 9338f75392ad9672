package ngcontrol

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/relayengine/internal/relay/worker"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Message
		req  worker.Request
	}{
		{
			name: "ping",
			in:   "abc d7:command4:pinge",
			want: Message{Cookie: "abc", Command: "ping"},
			req:  worker.Ping{},
		},
		{
			name: "offer uses from-tag",
			in:   "1 d7:call-id2:c18:from-tag1:f7:command5:offer3:sdp3:v=0e",
			want: Message{Cookie: "1", Command: "offer", CallID: "c1", FromTag: "f", SDP: "v=0"},
			req:  worker.Call{CallID: "c1", LegID: "f", SDP: "v=0"},
		},
		{
			name: "answer uses to-tag",
			in:   "2 d7:call-id2:c17:command6:answer8:from-tag1:f3:sdp3:v=06:to-tag1:te",
			want: Message{Cookie: "2", Command: "answer", CallID: "c1", FromTag: "f", ToTag: "t", SDP: "v=0"},
			req:  worker.Call{CallID: "c1", LegID: "t", SDP: "v=0"},
		},
		{
			name: "delete",
			in:   "3 d7:call-id2:c17:command6:deletee",
			want: Message{Cookie: "3", Command: "delete", CallID: "c1"},
			req:  worker.End{CallID: "c1"},
		},
		{
			name: "ICE is accepted and ignored",
			in:   "4 d3:ICE6:remove7:command4:pinge",
			want: Message{Cookie: "4", Command: "ping", ICE: "remove"},
			req:  worker.Ping{},
		},
		{
			name: "unknown command",
			in:   "5 d7:command5:querye",
			want: Message{Cookie: "5", Command: "query"},
			req:  worker.Unknown{Command: "query"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, *m)
			assert.Equal(t, tt.req, m.Request())
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"nocookie",
		" d7:command4:pinge",
		"1 garbage",
		"1 li1ee",
		"1 d3:sdpi5ee",
		"1 d3:sdp1:xe",
	} {
		_, err := Decode([]byte(in))
		assert.ErrorIs(t, err, ErrMalformed, "input %q", in)
	}
}

func TestEncode(t *testing.T) {
	out, err := Encode("abc", ReplyFor(worker.Pong{}))
	require.NoError(t, err)
	assert.Equal(t, "abc d6:result4:ponge", string(out))

	out, err = Encode("x", ReplyFor(worker.Error{Reason: "No available port"}))
	require.NoError(t, err)
	assert.Equal(t, "x d12:error-reason17:No available port6:result5:errore", string(out))

	out, err = Encode("y", ReplyFor(worker.Answer{SDP: "v=0"}))
	require.NoError(t, err)
	assert.Equal(t, "y d6:result2:ok3:sdp3:v=0e", string(out))

	out, err = Encode("z", ReplyFor(worker.Ended{}))
	require.NoError(t, err)
	assert.Equal(t, "z d6:result2:oke", string(out))
}

func TestRequestRoundTrip(t *testing.T) {
	in := &Message{Cookie: "k", Command: "offer", CallID: "c", FromTag: "f", SDP: "v=0"}
	data, err := EncodeRequest(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	cookie, reply, err := DecodeReply([]byte("k d6:result2:ok3:sdp3:v=0e"))
	require.NoError(t, err)
	assert.Equal(t, "k", cookie)
	assert.Equal(t, Reply{Result: ResultOK, SDP: "v=0"}, reply)
}

// countingHandler answers like a worker would and counts executions.
type countingHandler struct {
	mu    sync.Mutex
	calls []worker.Request
}

func (h *countingHandler) Do(_ context.Context, req worker.Request) (worker.Response, error) {
	h.mu.Lock()
	h.calls = append(h.calls, req)
	h.mu.Unlock()
	switch r := req.(type) {
	case worker.Ping:
		return worker.Pong{}, nil
	case worker.Call:
		return worker.Answer{SDP: "answer-for-" + r.LegID}, nil
	case worker.End:
		return worker.Ended{}, nil
	default:
		return worker.Error{Reason: worker.ReasonUnknownCommand}, nil
	}
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func startServer(t *testing.T, h Handler) (net.Conn, func()) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(h, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, pc) }()

	client, err := net.Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	return client, func() {
		_ = client.Close()
		cancel()
		require.NoError(t, <-done)
	}
}

func roundTrip(t *testing.T, c net.Conn, req string) string {
	t.Helper()
	_, err := c.Write([]byte(req))
	require.NoError(t, err)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, err := c.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestServer(t *testing.T) {
	h := &countingHandler{}
	c, stop := startServer(t, h)
	defer stop()

	assert.Equal(t, "abc d6:result4:ponge", roundTrip(t, c, "abc d7:command4:pinge"))
	assert.Equal(t, "o1 d6:result2:ok3:sdp12:answer-for-fe",
		roundTrip(t, c, "o1 d7:call-id2:c18:from-tag1:f7:command5:offer3:sdp3:v=0e"))
	assert.Equal(t, "u1 d12:error-reason14:UNKNOW_COMMAND6:result5:errore",
		roundTrip(t, c, "u1 d7:command5:querye"))
}

func TestServerReplaysRetransmissions(t *testing.T) {
	h := &countingHandler{}
	c, stop := startServer(t, h)
	defer stop()

	req := "same d7:call-id2:c17:command6:deletee"
	first := roundTrip(t, c, req)
	second := roundTrip(t, c, req)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.count())
}

// gatedHandler holds every command until release is closed.
type gatedHandler struct {
	countingHandler
	started chan struct{}
	release chan struct{}
}

func (h *gatedHandler) Do(ctx context.Context, req worker.Request) (worker.Response, error) {
	h.started <- struct{}{}
	<-h.release
	return h.countingHandler.Do(ctx, req)
}

func TestServerJoinsInFlightRetransmission(t *testing.T) {
	h := &gatedHandler{started: make(chan struct{}, 2), release: make(chan struct{})}
	c, stop := startServer(t, h)
	defer stop()

	req := []byte("slow d7:call-id2:c18:from-tag1:f7:command5:offer3:sdp3:v=0e")
	_, err := c.Write(req)
	require.NoError(t, err)
	<-h.started

	// Retransmit while the first copy is still executing.
	_, err = c.Write(req)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	close(h.release)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	for i := 0; i < 2; i++ {
		n, err := c.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "slow d6:result2:ok3:sdp12:answer-for-fe", string(buf[:n]))
	}
	assert.Equal(t, 1, h.count())
	assert.Empty(t, h.started)
}

func TestServerDropsMalformed(t *testing.T) {
	h := &countingHandler{}
	c, stop := startServer(t, h)
	defer stop()

	_, err := c.Write([]byte("garbage"))
	require.NoError(t, err)

	// The server keeps serving after a bad datagram.
	assert.Equal(t, "p d6:result4:ponge", roundTrip(t, c, "p d7:command4:pinge"))
	assert.Equal(t, 1, h.count())
}
