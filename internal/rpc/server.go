package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcules/homeprice/internal/estimator"
	"github.com/mcules/homeprice/internal/prediction"
)

type Server struct {
	Service *prediction.Service
	Log     *logrus.Logger
}

func NewServer(svc *prediction.Service, log *logrus.Logger) *Server {
	return &Server{Service: svc, Log: log}
}

func (s *Server) Predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		s.Service.Reject("grpc")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	est, err := s.Service.Predict(ctx, req, "grpc")
	switch {
	case errors.Is(err, estimator.ErrArtifactsNotLoaded):
		return nil, status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, estimator.ErrPriceOutOfRange):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		return nil, status.Errorf(codes.Internal, "predict: %v", err)
	}

	out, err := structpb.NewStruct(map[string]any{
		"estimated_price": est.Price,
		"location":        est.Location,
		"matched":         est.Matched(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func (s *Server) ListLocations(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	locs := s.Service.Locations()
	vals := make([]*structpb.Value, 0, len(locs))
	for _, l := range locs {
		vals = append(vals, structpb.NewStringValue(l))
	}
	return &structpb.ListValue{Values: vals}, nil
}

func requestFromStruct(in *structpb.Struct) (prediction.Request, error) {
	fields := in.GetFields()

	var req prediction.Request
	loc, ok := fields["location"]
	if !ok {
		return req, &prediction.InputError{Field: "location", Reason: "is required"}
	}
	sv, ok := loc.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return req, &prediction.InputError{Field: "location", Reason: "must be a string"}
	}
	req.Location = sv.StringValue

	sqftField := "sqft"
	if _, ok := fields[sqftField]; !ok {
		sqftField = "total_sqft"
	}
	var err error
	if req.Sqft, err = number(fields, sqftField); err != nil {
		return req, err
	}
	if req.Bath, err = wholeNumber(fields, "bath"); err != nil {
		return req, err
	}
	if req.BHK, err = wholeNumber(fields, "bhk"); err != nil {
		return req, err
	}
	return req, nil
}

// number accepts a protobuf number or a numeric string.
func number(fields map[string]*structpb.Value, name string) (float64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, &prediction.InputError{Field: name, Reason: "is required"}
	}
	var f float64
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		f = k.NumberValue
	case *structpb.Value_StringValue:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(k.StringValue), 64)
		if err != nil {
			return 0, &prediction.InputError{Field: name, Reason: fmt.Sprintf("%q is not a number", k.StringValue)}
		}
		f = parsed
	default:
		return 0, &prediction.InputError{Field: name, Reason: "must be a number"}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &prediction.InputError{Field: name, Reason: "must be finite"}
	}
	return f, nil
}

func wholeNumber(fields map[string]*structpb.Value, name string) (int, error) {
	f, err := number(fields, name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, &prediction.InputError{Field: name, Reason: fmt.Sprintf("%v is not a whole number", f)}
	}
	return int(f), nil
}
