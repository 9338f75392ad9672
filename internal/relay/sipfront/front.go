// Package sipfront lets SIP endpoints use the relay directly: an INVITE
// carrying an offer creates the caller's leg and is answered with the
// relay's session description, and a BYE ends the call.
package sipfront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/relayengine/internal/relay/metrics"
	"github.com/sebas/relayengine/internal/relay/worker"
)

const requestTimeout = 5 * time.Second

// Engine is the part of *engine.Engine the front door drives.
type Engine interface {
	Offer(ctx context.Context, callID, legID, sdp string) (string, error)
	End(ctx context.Context, callID string) error
}

// Front is a minimal SIP UAS in front of the relay.
type Front struct {
	engine  Engine
	log     *slog.Logger
	metrics *metrics.Metrics

	ua  *sipgo.UserAgent
	srv *sipgo.Server
}

// New creates the user agent and registers the request handlers.
func New(e Engine, log *slog.Logger, m *metrics.Metrics) (*Front, error) {
	if log == nil {
		log = slog.Default()
	}
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	f := &Front{engine: e, log: log, metrics: m, ua: ua, srv: srv}
	srv.OnRequest(sip.INVITE, f.handleINVITE)
	srv.OnRequest(sip.BYE, f.handleBYE)
	srv.OnRequest(sip.OPTIONS, f.handleOPTIONS)
	srv.OnRequest(sip.ACK, func(*sip.Request, sip.ServerTransaction) {})
	return f, nil
}

// ListenAndServe serves SIP over UDP on addr until ctx ends.
func (f *Front) ListenAndServe(ctx context.Context, addr string) error {
	f.log.Info("[SIP] Listening", "addr", addr)
	if err := f.srv.ListenAndServe(ctx, "udp", addr); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Close releases the user agent.
func (f *Front) Close() error {
	return f.ua.Close()
}

func (f *Front) handleINVITE(req *sip.Request, tx sip.ServerTransaction) {
	f.respond(tx, f.answerInvite(context.Background(), req))
}

func (f *Front) handleBYE(req *sip.Request, tx sip.ServerTransaction) {
	f.respond(tx, f.answerBye(context.Background(), req))
}

func (f *Front) handleOPTIONS(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, BYE, OPTIONS"))
	f.respond(tx, res)
}

func (f *Front) respond(tx sip.ServerTransaction, res *sip.Response) {
	if err := tx.Respond(res); err != nil {
		f.log.Error("[SIP] Failed to respond", "status", res.StatusCode, "error", err)
	}
}

// answerInvite creates the caller's leg and builds the final response.
func (f *Front) answerInvite(ctx context.Context, req *sip.Request) *sip.Response {
	callID := callIDOf(req)
	fromTag := ""
	if from := req.From(); from != nil {
		fromTag, _ = from.Params.Get("tag")
	}
	f.log.Info("[SIP] INVITE", "call_id", callID, "from_tag", fromTag)

	if callID == "" || fromTag == "" {
		f.metrics.Command("sip", "invite", "error")
		return sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing Call-ID or From tag", nil)
	}
	if len(req.Body()) == 0 {
		f.metrics.Command("sip", "invite", "error")
		return sip.NewResponseFromRequest(req, sip.StatusNotAcceptable, "Not Acceptable - no SDP offer", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	answer, err := f.engine.Offer(ctx, callID, fromTag, string(req.Body()))
	if err != nil {
		f.log.Error("[SIP] Offer failed", "call_id", callID, "error", err)
		f.metrics.Command("sip", "invite", "error")
		if errors.Is(err, worker.ErrNoAvailablePort) {
			return sip.NewResponseFromRequest(req, sip.StatusServiceUnavailable, err.Error(), nil)
		}
		return sip.NewResponseFromRequest(req, sip.StatusNotAcceptable, "Not Acceptable - "+err.Error(), nil)
	}

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", []byte(answer))
	ct := sip.ContentTypeHeader("application/sdp")
	res.AppendHeader(&ct)
	if to := res.To(); to != nil {
		if _, ok := to.Params.Get("tag"); !ok {
			to.Params.Add("tag", uuid.New().String()[:8])
		}
	}
	f.metrics.Command("sip", "invite", "ok")
	return res
}

func (f *Front) answerBye(ctx context.Context, req *sip.Request) *sip.Response {
	callID := callIDOf(req)
	f.log.Info("[SIP] BYE", "call_id", callID)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := f.engine.End(ctx, callID); err != nil {
		f.log.Error("[SIP] End failed", "call_id", callID, "error", err)
		f.metrics.Command("sip", "bye", "error")
		return sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Server Error", nil)
	}
	f.metrics.Command("sip", "bye", "ok")
	return sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
}

func callIDOf(req *sip.Request) string {
	if id := req.CallID(); id != nil {
		return id.String()
	}
	return ""
}
