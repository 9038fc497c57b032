package grpcbundle

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"everstone.io/anchor/storage"
)

// Client implements storage.BundleSource over the Bundles gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client BundlesClient

	// Timeout applies per RPC when non-zero and the caller's context carries
	// no deadline of its own.
	Timeout time.Duration
}

type DialOptions struct {
	// MaxMsgBytes sets both send/recv max sizes when non-zero. Bundles can
	// carry images, so the gRPC default of 4 MiB is often too small.
	MaxMsgBytes int
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewBundlesClient(cc)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("grpcbundle: nil client")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	reply, err := c.client.Fetch(ctx, wrapperspb.String(ref))
	if err != nil {
		return nil, mapRPC(err)
	}
	return reply.GetValue(), nil
}

// HasBundle reports whether the service holds a bundle for ref.
func (c *Client) HasBundle(ctx context.Context, ref string) (bool, error) {
	if c == nil || c.client == nil {
		return false, errors.New("grpcbundle: nil client")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	reply, err := c.client.Has(ctx, wrapperspb.String(ref))
	if err != nil {
		return false, mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

var _ storage.BundleSource = (*Client)(nil)
