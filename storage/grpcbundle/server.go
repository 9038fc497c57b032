package grpcbundle

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"everstone.io/anchor/storage"
)

// Server exposes a storage.BundleSource over the Bundles gRPC service.
type Server struct {
	UnimplementedBundlesServer
	Source storage.BundleSource
}

func (s *Server) Fetch(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Source == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing bundle source")
	}
	ref := in.GetValue()
	if ref == "" {
		return nil, status.Error(codes.InvalidArgument, "empty reference")
	}
	b, err := s.Source.Fetch(ctx, ref)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Source == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing bundle source")
	}
	ref := in.GetValue()
	if ref == "" {
		return nil, status.Error(codes.InvalidArgument, "empty reference")
	}
	if h, ok := s.Source.(interface{ Has(string) bool }); ok {
		return wrapperspb.Bool(h.Has(ref)), nil
	}
	_, err := s.Source.Fetch(ctx, ref)
	if err != nil {
		if storage.IsNotFound(err) {
			return wrapperspb.Bool(false), nil
		}
		return nil, mapErr(err)
	}
	return wrapperspb.Bool(true), nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case storage.IsNotFound(err):
		return status.Error(codes.NotFound, storage.ErrNotFound.Error())
	case err == storage.ErrUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
