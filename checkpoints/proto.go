package checkpoints

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Wire layout:
//
//	message Checkpoint { repeated Tensor tensors = 1; Metadata metadata = 2; }
//	message Tensor     { string name = 1; repeated int64 shape = 2; repeated float data = 3; }
//	message Metadata   { string framework = 1; string version = 2; google.protobuf.Timestamp created_at = 3; }
const (
	checkpointTensors  protowire.Number = 1
	checkpointMetadata protowire.Number = 2

	tensorName  protowire.Number = 1
	tensorShape protowire.Number = 2
	tensorData  protowire.Number = 3

	metadataFramework protowire.Number = 1
	metadataVersion   protowire.Number = 2
	metadataCreatedAt protowire.Number = 3
)

func marshalProto(cp *Checkpoint) ([]byte, error) {
	var b []byte
	for _, w := range cp.Weights {
		b = protowire.AppendTag(b, checkpointTensors, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(w))
	}

	meta, err := marshalMetadata(cp.Metadata)
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, checkpointMetadata, protowire.BytesType)
	b = protowire.AppendBytes(b, meta)
	return b, nil
}

func marshalTensor(w WeightTensor) []byte {
	var b []byte
	b = protowire.AppendTag(b, tensorName, protowire.BytesType)
	b = protowire.AppendString(b, w.Name)

	var shape []byte
	for _, d := range w.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	b = protowire.AppendTag(b, tensorShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	data := make([]byte, 0, 4*len(w.Data))
	for _, v := range w.Data {
		data = protowire.AppendFixed32(data, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, tensorData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return b
}

func marshalMetadata(m CheckpointMetadata) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, metadataFramework, protowire.BytesType)
	b = protowire.AppendString(b, m.Framework)
	b = protowire.AppendTag(b, metadataVersion, protowire.BytesType)
	b = protowire.AppendString(b, m.Version)

	ts, err := proto.Marshal(timestamppb.New(m.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp: %w", err)
	}
	b = protowire.AppendTag(b, metadataCreatedAt, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)
	return b, nil
}

func unmarshalProto(b []byte) (*Checkpoint, error) {
	cp := &Checkpoint{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case checkpointTensors:
			w, err := unmarshalTensor(v)
			if err != nil {
				return err
			}
			cp.Weights = append(cp.Weights, w)
		case checkpointMetadata:
			m, err := unmarshalMetadata(v)
			if err != nil {
				return err
			}
			cp.Metadata = m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func unmarshalTensor(b []byte) (WeightTensor, error) {
	var w WeightTensor
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case tensorName:
			w.Name = string(v)
		case tensorShape:
			for len(v) > 0 {
				d, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				w.Shape = append(w.Shape, int(d))
				v = v[n:]
			}
		case tensorData:
			if len(v)%4 != 0 {
				return fmt.Errorf("tensor %q: data length %d is not a multiple of 4", w.Name, len(v))
			}
			for len(v) > 0 {
				bits, n := protowire.ConsumeFixed32(v)
				w.Data = append(w.Data, math.Float32frombits(bits))
				v = v[n:]
			}
		}
		return nil
	})
	return w, err
}

func unmarshalMetadata(b []byte) (CheckpointMetadata, error) {
	var m CheckpointMetadata
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case metadataFramework:
			m.Framework = string(v)
		case metadataVersion:
			m.Version = string(v)
		case metadataCreatedAt:
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return fmt.Errorf("failed to unmarshal timestamp: %w", err)
			}
			m.CreatedAt = ts.AsTime()
		}
		return nil
	})
	return m, err
}

// forEachField calls fn with the payload of every length-delimited field of b
// and skips fields of any other wire type.
func forEachField(b []byte, fn func(protowire.Number, protowire.Type, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
			continue
		}

		v, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		if err := fn(num, typ, v); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}
