package grpc

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/autopeer-io/transitlive/internal/transit/core"
)

// mapError translates a call error into the core error taxonomy.
func mapError(method string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w: %w", method, core.ErrTransient, err)
	}

	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%s: %w: %s", method, core.ErrSessionInvalid, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %s", method, core.ErrNotFound, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Canceled, codes.Internal, codes.Unknown:
		return fmt.Errorf("%s: %w: %s", method, core.ErrTransient, st.Message())
	default:
		return fmt.Errorf("%s: %w: %s: %s", method, core.ErrRejected, st.Code(), st.Message())
	}
}
