package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the service over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]interface{}) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.invoke(ctx, methodPing, nil)
	return err
}

// Offer creates or refreshes a leg and returns the relay's answer.
func (c *Client) Offer(ctx context.Context, callID, legID, sdp string) (string, error) {
	out, err := c.invoke(ctx, methodOffer, map[string]interface{}{
		"call_id": callID,
		"leg_id":  legID,
		"sdp":     sdp,
	})
	if err != nil {
		return "", err
	}
	return field(out, "sdp"), nil
}

func (c *Client) End(ctx context.Context, callID string) error {
	_, err := c.invoke(ctx, methodEnd, map[string]interface{}{"call_id": callID})
	return err
}

// Stats returns the raw per-shard counters.
func (c *Client) Stats(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, methodStats, nil)
}
