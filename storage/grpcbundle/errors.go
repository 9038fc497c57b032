package grpcbundle

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"everstone.io/anchor/storage"
)

func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return storage.ErrNotFound
	case codes.Unavailable:
		return storage.ErrUnavailable
	default:
		// Best-effort: if the server sent a known storage error message, preserve it.
		switch st.Message() {
		case storage.ErrNotFound.Error():
			return storage.ErrNotFound
		case storage.ErrUnavailable.Error():
			return storage.ErrUnavailable
		default:
			return err
		}
	}
}
