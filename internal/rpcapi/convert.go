package rpcapi

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
)

// Field names shared by requests and replies
const (
	fieldSocketID = "socketId"
	fieldRoom     = "room"
	fieldRooms    = "rooms"
	fieldExcept   = "except"
	fieldMethod   = "method"
	fieldMessage  = "message"
	fieldEvent    = "event"
	fieldData     = "data"
)

// Events sent on an Attach stream
const (
	EventConnected = "connected"
	EventMessage   = "message"
	EventError     = "error"
)

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func stringsField(s *structpb.Struct, key string) []string {
	values := s.GetFields()[key].GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if str := v.GetStringValue(); str != "" {
			out = append(out, str)
		}
	}
	return out
}

func stringList(values []string) *structpb.Value {
	list := make([]*structpb.Value, len(values))
	for i, v := range values {
		list[i] = structpb.NewStringValue(v)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

// messageValue converts msg to a list value. Arguments must be JSON-like.
func messageValue(msg broadcast.Message) (*structpb.Value, error) {
	list, err := structpb.NewList(msg)
	if err != nil {
		return nil, fmt.Errorf("message is not representable as a struct list: %w", err)
	}
	return structpb.NewListValue(list), nil
}

func messageField(s *structpb.Struct, key string) (broadcast.Message, bool) {
	v, ok := s.GetFields()[key]
	if !ok || v.GetListValue() == nil {
		return nil, false
	}
	return broadcast.Message(v.GetListValue().AsSlice()), true
}

func roomsReply(id string, rooms []string) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldRooms: stringList(rooms),
	}
	if id != "" {
		fields[fieldSocketID] = structpb.NewStringValue(id)
	}
	return &structpb.Struct{Fields: fields}
}

func resultReply(r broadcast.Result) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"targeted":   structpb.NewNumberValue(float64(r.Targeted)),
		"delivered":  structpb.NewNumberValue(float64(r.Delivered)),
		"suppressed": structpb.NewNumberValue(float64(r.Suppressed)),
		"failed":     structpb.NewNumberValue(float64(r.Failed)),
		"missing":    structpb.NewNumberValue(float64(r.Missing)),
	}}
}

func resultFromReply(s *structpb.Struct) broadcast.Result {
	n := func(key string) int { return int(s.GetFields()[key].GetNumberValue()) }
	return broadcast.Result{
		Targeted:   n("targeted"),
		Delivered:  n("delivered"),
		Suppressed: n("suppressed"),
		Failed:     n("failed"),
		Missing:    n("missing"),
	}
}
