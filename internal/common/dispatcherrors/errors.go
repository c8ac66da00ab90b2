// Package dispatcherrors contains the errors returned by code handling queue server requests.
// The gRPC interceptor in this package looks for these types and sets the gRPC status code
// accordingly, so that clients can tell protocol errors apart from transient failures.
package dispatcherrors

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrAlreadyExists is returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "job"
	Value   string // Resource name
	Message string
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrNotFound is returned whenever some resource isn't found.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "testEntryConfigurations"
	Value   interface{} // The invalid value that was provided
	Message string
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrSignatureMismatch is returned when a request carries the signature of another queue server instance.
// The expected signature is never part of the message.
type ErrSignatureMismatch struct {
	WorkerId string
	Actual   string
}

func (err *ErrSignatureMismatch) Error() string {
	return fmt.Sprintf("request signature %q of worker %q does not match this queue server", err.Actual, err.WorkerId)
}

type ErrWorkerBlocked struct {
	WorkerId string
}

func (err *ErrWorkerBlocked) Error() string {
	return fmt.Sprintf("worker %q is blocked", err.WorkerId)
}

// ErrNoDequeuedBucket is returned when a result arrives for a lease the queue does not hold.
type ErrNoDequeuedBucket struct {
	RequestId string
	WorkerId  string
	BucketId  string
	Message   string
}

func (err *ErrNoDequeuedBucket) Error() string {
	s := fmt.Sprintf("no dequeued bucket for request %q of worker %q", err.RequestId, err.WorkerId)
	if err.BucketId != "" {
		s = s + fmt.Sprintf(" (bucket %q)", err.BucketId)
	}
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// CodeFromError maps error types to gRPC return codes.
// Uses errors.As to look through the chain of errors.
func CodeFromError(err error) codes.Code {
	// If the error is nil, this returns an OK status code.
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}

	{
		var e *ErrAlreadyExists
		if errors.As(err, &e) {
			return codes.AlreadyExists
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return codes.NotFound
		}
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return codes.InvalidArgument
		}
	}
	{
		var e *ErrSignatureMismatch
		if errors.As(err, &e) {
			return codes.Unauthenticated
		}
	}
	{
		var e *ErrWorkerBlocked
		if errors.As(err, &e) {
			return codes.PermissionDenied
		}
	}
	{
		var e *ErrNoDequeuedBucket
		if errors.As(err, &e) {
			return codes.FailedPrecondition
		}
	}

	return codes.Unknown
}

// IsSignatureMismatch works on both the typed error and the status a client receives for it.
func IsSignatureMismatch(err error) bool {
	var e *ErrSignatureMismatch
	if errors.As(err, &e) {
		return true
	}
	return grpcCode(err) == codes.Unauthenticated
}

func IsWorkerBlocked(err error) bool {
	var e *ErrWorkerBlocked
	if errors.As(err, &e) {
		return true
	}
	return grpcCode(err) == codes.PermissionDenied
}

// IsProtocolError reports errors that retrying the same request cannot fix.
func IsProtocolError(err error) bool {
	switch grpcCode(err) {
	case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument, codes.NotFound,
		codes.AlreadyExists, codes.FailedPrecondition:
		return true
	}
	return false
}

// grpcCode finds a gRPC status anywhere in the error chain, including inside multierrors.
func grpcCode(err error) codes.Code {
	var withStatus interface{ GRPCStatus() *status.Status }
	if errors.As(err, &withStatus) {
		return withStatus.GRPCStatus().Code()
	}
	return status.Code(err)
}

// UnaryServerInterceptor returns an interceptor that extracts the cause of an error chain
// and returns it as a gRPC status error.
//
// To log the full error chain and return only the cause to the user, insert this interceptor before
// the logging interceptor.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		rv, err := handler(ctx, req)

		// nil or already a gRPC status
		if _, ok := status.FromError(err); ok {
			return rv, err
		}

		cause := errors.Cause(err)
		return rv, status.Error(CodeFromError(cause), cause.Error())
	}
}
