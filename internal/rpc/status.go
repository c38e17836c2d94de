package rpc

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/misev/asqldb/internal/errors"
)

// toStatus converts an engine error to a gRPC status. Structured errors
// travel as a Struct detail so the client can rebuild them.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Unknown
	category := errors.GetCategory(err)
	errCode := errors.GetCode(err)
	switch {
	case errCode == errors.CodeNoFreeServer:
		code = codes.Unavailable
	case errCode == errors.CodeOverload:
		code = codes.ResourceExhausted
	case errCode == errors.CodeParseError:
		code = codes.InvalidArgument
	case category == errors.ErrCategoryConnection:
		code = codes.Unavailable
	}

	st := status.New(code, err.Error())
	if category == "" {
		return st.Err()
	}
	detail := &structpb.Struct{Fields: map[string]*structpb.Value{
		"category": structpb.NewStringValue(string(category)),
		"code":     structpb.NewStringValue(errCode),
	}}
	if withDetail, derr := st.WithDetails(detail); derr == nil {
		st = withDetail
	}
	return st.Err()
}

// fromStatus rebuilds the structured error carried by a gRPC status.
// Transport-level failures become retryable CONNECTION_REFUSED errors.
func fromStatus(err error, what string) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return errors.NewQueryError(errors.CodeFailed, what, err)
	}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		category := errors.ErrorCategory(s.GetFields()["category"].GetStringValue())
		code := s.GetFields()["code"].GetStringValue()
		if category != "" && code != "" {
			return errors.Wrap(category, code, what, fmt.Errorf("%s", st.Message()))
		}
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return errors.NewConnectionError(errors.CodeConnectionRefused, what, err)
	case codes.ResourceExhausted:
		return errors.NewQueryError(errors.CodeOverload, what, err)
	}
	return errors.NewQueryError(errors.CodeFailed, what, err)
}
