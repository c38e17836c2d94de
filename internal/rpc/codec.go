package rpc

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/misev/asqldb/internal/session"
	"github.com/misev/asqldb/pkg/types"
)

// Bag elements travel as {"kind": ..., "value": ...} structs. Integers are
// sent as decimal text so int64 survives the float64 number value; arrays
// carry "cell", "domain" and "cells".
const (
	kindInt    = "int"
	kindFloat  = "float"
	kindBool   = "bool"
	kindString = "string"
	kindBytes  = "bytes"
	kindArray  = "array"
	kindRef    = "ref"
)

// EncodeBag converts a result bag to a protobuf list.
func EncodeBag(bag session.Bag) (*structpb.ListValue, error) {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(bag))}
	for i, v := range bag {
		enc, err := encodeElement(v)
		if err != nil {
			return nil, fmt.Errorf("bag element %d: %w", i, err)
		}
		out.Values = append(out.Values, structpb.NewStructValue(enc))
	}
	return out, nil
}

func encodeElement(v any) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{}
	switch x := v.(type) {
	case int64:
		fields["kind"] = structpb.NewStringValue(kindInt)
		fields["value"] = structpb.NewStringValue(strconv.FormatInt(x, 10))
	case float64:
		fields["kind"] = structpb.NewStringValue(kindFloat)
		fields["value"] = structpb.NewNumberValue(x)
	case bool:
		fields["kind"] = structpb.NewStringValue(kindBool)
		fields["value"] = structpb.NewBoolValue(x)
	case string:
		fields["kind"] = structpb.NewStringValue(kindString)
		fields["value"] = structpb.NewStringValue(x)
	case []byte:
		fields["kind"] = structpb.NewStringValue(kindBytes)
		fields["value"] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(x))
	case types.ArrayRef:
		fields["kind"] = structpb.NewStringValue(kindRef)
		fields["value"] = structpb.NewStringValue(x.String())
	case *types.MArray:
		cells := make([]*structpb.Value, len(x.Cells))
		for i, c := range x.Cells {
			cells[i] = structpb.NewNumberValue(c)
		}
		fields["kind"] = structpb.NewStringValue(kindArray)
		fields["cell"] = structpb.NewStringValue(x.CellType.String())
		fields["domain"] = structpb.NewStringValue(x.Domain.String())
		fields["cells"] = structpb.NewListValue(&structpb.ListValue{Values: cells})
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
	return &structpb.Struct{Fields: fields}, nil
}

// DecodeBag is the inverse of EncodeBag.
func DecodeBag(list *structpb.ListValue) (session.Bag, error) {
	bag := make(session.Bag, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		el, err := decodeElement(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("bag element %d: %w", i, err)
		}
		bag = append(bag, el)
	}
	return bag, nil
}

func decodeElement(s *structpb.Struct) (any, error) {
	if s == nil {
		return nil, fmt.Errorf("element is not a struct")
	}
	f := s.GetFields()
	value := f["value"]
	switch kind := f["kind"].GetStringValue(); kind {
	case kindInt:
		return strconv.ParseInt(value.GetStringValue(), 10, 64)
	case kindFloat:
		return value.GetNumberValue(), nil
	case kindBool:
		return value.GetBoolValue(), nil
	case kindString:
		return value.GetStringValue(), nil
	case kindBytes:
		return base64.StdEncoding.DecodeString(value.GetStringValue())
	case kindRef:
		return types.ParseArrayRef(value.GetStringValue())
	case kindArray:
		cell, err := types.ParseScalarType(f["cell"].GetStringValue())
		if err != nil {
			return nil, err
		}
		dom, err := types.ParseSdom(f["domain"].GetStringValue())
		if err != nil {
			return nil, err
		}
		values := f["cells"].GetListValue().GetValues()
		if int64(len(values)) != dom.Cells() {
			return nil, fmt.Errorf("%d cells for domain %s", len(values), dom)
		}
		arr := types.NewMArray(cell, dom)
		for i, c := range values {
			arr.Cells[i] = c.GetNumberValue()
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unknown element kind %q", kind)
	}
}
