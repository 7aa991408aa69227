package robotrpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"biopatrol/pkg/apperror"
)

// classifyTransportErr turns a gRPC transport-level error into the transient
// apperror taxonomy the retry layer understands. A nil input returns nil.
func classifyTransportErr(err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return apperror.Wrap(err, apperror.CodeInternal, "fleet rpc transport error")
	}

	switch st.Code() {
	case codes.Unavailable:
		return apperror.Wrap(err, apperror.CodeTransientUnavailable, st.Message())
	case codes.DeadlineExceeded:
		return apperror.Wrap(err, apperror.CodeTransientDeadline, st.Message())
	case codes.ResourceExhausted:
		return apperror.Wrap(err, apperror.CodeTransientExhausted, st.Message())
	default:
		return apperror.Wrap(err, apperror.CodeInternal, st.Message())
	}
}

// resultFromWire converts the wire envelope into the Result data value every
// Fleet Gateway operation returns to its caller. Robot-domain codes never
// become errors here; they are carried in Result.ErrorCode. Errors returned
// here are reserved for transport failures.
func resultFromWire(w *wireResult, transportErr error) (*Result, error) {
	if err := classifyTransportErr(transportErr); err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errors.New("robotrpc: empty response")
	}
	return &Result{
		OK:        w.OK,
		ErrorCode: w.ErrorCode,
		ErrorText: w.Error,
		Data:      w.Data,
	}, nil
}
