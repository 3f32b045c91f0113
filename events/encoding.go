package events

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encoder turns an event into a wire payload for a relay.
type Encoder interface {
	Encode(Event) ([]byte, error)
	ContentType() string
}

// NewEncoder returns the encoder registered under name: "json" or "proto".
func NewEncoder(name string) (Encoder, error) {
	switch name {
	case "json", "":
		return JSONEncoder{}, nil
	case "proto":
		return ProtoEncoder{}, nil
	}
	return nil, fmt.Errorf("events: unknown encoding %q", name)
}

// ---------- JSON ----------

type JSONEncoder struct{}

func (JSONEncoder) Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func (JSONEncoder) ContentType() string { return "application/json" }

// ---------- Protobuf ----------

// ProtoEncoder writes the event as a google.protobuf.Struct so consumers can
// decode it with any protobuf runtime and no generated schema.
type ProtoEncoder struct{}

func (ProtoEncoder) Encode(ev Event) ([]byte, error) {
	st, err := toStruct(ev)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func (ProtoEncoder) ContentType() string { return "application/x-protobuf" }

func toStruct(ev Event) (*structpb.Struct, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// DecodeProto reads a ProtoEncoder payload back into a generic map.
func DecodeProto(data []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}
