package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/relayengine/internal/relay/ngcontrol"
)

const (
	ngAttempts = 3
	ngWait     = time.Second
)

// ngClient sends NG requests over UDP and retransmits with the same cookie
// until a reply for that cookie arrives.
type ngClient struct {
	addr string
}

func (c *ngClient) roundTrip(ctx context.Context, m *ngcontrol.Message) (ngcontrol.Reply, error) {
	m.Cookie = uuid.New().String()[:8]
	data, err := ngcontrol.EncodeRequest(m)
	if err != nil {
		return ngcontrol.Reply{}, err
	}

	conn, err := net.Dial("udp", c.addr)
	if err != nil {
		return ngcontrol.Reply{}, err
	}
	defer conn.Close()

	buf := make([]byte, 65535)
	for attempt := 0; attempt < ngAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ngcontrol.Reply{}, err
		}
		if _, err := conn.Write(data); err != nil {
			return ngcontrol.Reply{}, err
		}
		deadline := time.Now().Add(ngWait)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = conn.SetReadDeadline(deadline)

		for {
			n, err := conn.Read(buf)
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			if err != nil {
				return ngcontrol.Reply{}, err
			}
			cookie, reply, err := ngcontrol.DecodeReply(buf[:n])
			if err != nil || cookie != m.Cookie {
				continue
			}
			return reply, nil
		}
	}
	return ngcontrol.Reply{}, fmt.Errorf("no reply from %s after %d attempts", c.addr, ngAttempts)
}

func (c *ngClient) do(ctx context.Context, m *ngcontrol.Message) (ngcontrol.Reply, error) {
	reply, err := c.roundTrip(ctx, m)
	if err != nil {
		return reply, err
	}
	if reply.Result == ngcontrol.ResultError {
		return reply, errors.New(reply.ErrorReason)
	}
	return reply, nil
}

func (c *ngClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, &ngcontrol.Message{Command: ngcontrol.CommandPing})
	return err
}

func (c *ngClient) Offer(ctx context.Context, callID, fromTag, sdp string) (string, error) {
	reply, err := c.do(ctx, &ngcontrol.Message{
		Command: ngcontrol.CommandOffer,
		CallID:  callID,
		FromTag: fromTag,
		SDP:     sdp,
	})
	return reply.SDP, err
}

func (c *ngClient) Answer(ctx context.Context, callID, toTag, sdp string) (string, error) {
	reply, err := c.do(ctx, &ngcontrol.Message{
		Command: ngcontrol.CommandAnswer,
		CallID:  callID,
		ToTag:   toTag,
		SDP:     sdp,
	})
	return reply.SDP, err
}

func (c *ngClient) Delete(ctx context.Context, callID string) error {
	_, err := c.do(ctx, &ngcontrol.Message{Command: ngcontrol.CommandDelete, CallID: callID})
	return err
}
