package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcules/homeprice/internal/prediction"
)

type Client struct {
	cc grpc.ClientConnInterface
	// APIKey is sent as "authorization: Bearer <key>" metadata when set.
	APIKey string
}

func NewClient(cc grpc.ClientConnInterface, apiKey string) *Client {
	return &Client{cc: cc, APIKey: apiKey}
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.APIKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.APIKey)
}

func (c *Client) Predict(ctx context.Context, req prediction.Request) (float64, error) {
	in, err := structpb.NewStruct(map[string]any{
		"location": req.Location,
		"sqft":     req.Sqft,
		"bath":     req.Bath,
		"bhk":      req.BHK,
	})
	if err != nil {
		return 0, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.outgoing(ctx), PredictMethod, in, out); err != nil {
		return 0, err
	}
	v, ok := out.GetFields()["estimated_price"]
	if !ok {
		return 0, fmt.Errorf("response has no estimated_price")
	}
	return v.GetNumberValue(), nil
}

func (c *Client) ListLocations(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(c.outgoing(ctx), ListLocationsMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	locs := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		locs = append(locs, v.GetStringValue())
	}
	return locs, nil
}
