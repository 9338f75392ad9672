// Command relayctl drives a running relay engine over NG or gRPC.
//
//	relayctl [-ng addr | -grpc addr] ping
//	relayctl offer  -call-id ID -tag FROM_TAG [-sdp FILE]
//	relayctl answer -call-id ID -tag TO_TAG   [-sdp FILE]
//	relayctl delete -call-id ID
//
// Without -sdp the offer is read from stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sebas/relayengine/internal/relay/control"
)

type client interface {
	Ping(ctx context.Context) error
	Offer(ctx context.Context, callID, fromTag, sdp string) (string, error)
	Answer(ctx context.Context, callID, toTag, sdp string) (string, error)
	Delete(ctx context.Context, callID string) error
}

// grpcClient maps the NG verbs onto the gRPC service; both offer and
// answer create or refresh a leg.
type grpcClient struct {
	*control.Client
}

func (c grpcClient) Answer(ctx context.Context, callID, toTag, sdp string) (string, error) {
	return c.Client.Offer(ctx, callID, toTag, sdp)
}

func (c grpcClient) Delete(ctx context.Context, callID string) error {
	return c.Client.End(ctx, callID)
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "relayctl:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("relayctl", flag.ContinueOnError)
	ngAddr := fs.String("ng", "127.0.0.1:22222", "NG control address")
	grpcAddr := fs.String("grpc", "", "gRPC control address, overrides -ng")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	sub := flag.NewFlagSet("relayctl "+cmd, flag.ContinueOnError)
	callID := sub.String("call-id", "", "Call-ID")
	tag := sub.String("tag", "", "Leg tag (from-tag for offer, to-tag for answer)")
	sdpFile := sub.String("sdp", "", "SDP file, - or empty for stdin")
	if err := sub.Parse(rest); err != nil {
		return err
	}

	var c client
	if *grpcAddr != "" {
		conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer conn.Close()
		c = grpcClient{control.NewClient(conn)}
	} else {
		c = &ngClient{addr: *ngAddr}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case "ping":
		if err := c.Ping(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "pong")
		return nil

	case "offer", "answer":
		if *callID == "" || *tag == "" {
			return fmt.Errorf("%s needs -call-id and -tag", cmd)
		}
		sdp, err := readSDP(*sdpFile, stdin)
		if err != nil {
			return err
		}
		exchange := c.Offer
		if cmd == "answer" {
			exchange = c.Answer
		}
		answer, err := exchange(ctx, *callID, *tag, sdp)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, answer)
		return nil

	case "delete":
		if *callID == "" {
			return errors.New("delete needs -call-id")
		}
		if err := c.Delete(ctx, *callID); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "ok")
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func readSDP(path string, stdin io.Reader) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}
