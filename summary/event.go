package summary

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// fileVersion is the first event of every file; TensorBoard checks it.
const fileVersion = "brain.Event:2"

// Field numbers of tensorflow.Event, tensorflow.Summary and Summary.Value.
const (
	eventWallTime    protowire.Number = 1
	eventStep        protowire.Number = 2
	eventFileVersion protowire.Number = 3
	eventSummary     protowire.Number = 5

	summaryValue protowire.Number = 1

	valueTag         protowire.Number = 1
	valueSimpleValue protowire.Number = 2
)

// Event is the subset of tensorflow.Event this package reads and writes.
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Values      []Value
}

// Value is one tagged scalar of a summary.
type Value struct {
	Tag         string
	SimpleValue float32
}

// Scalar is a decoded AddScalar call.
type Scalar struct {
	Tag      string
	Value    float32
	Step     int64
	WallTime float64
}

func (e *Event) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(e.WallTime))
	if e.Step != 0 {
		b = protowire.AppendTag(b, eventStep, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Step))
	}
	if e.FileVersion != "" {
		b = protowire.AppendTag(b, eventFileVersion, protowire.BytesType)
		b = protowire.AppendString(b, e.FileVersion)
	}
	if len(e.Values) > 0 {
		var s []byte
		for _, v := range e.Values {
			var vb []byte
			vb = protowire.AppendTag(vb, valueTag, protowire.BytesType)
			vb = protowire.AppendString(vb, v.Tag)
			vb = protowire.AppendTag(vb, valueSimpleValue, protowire.Fixed32Type)
			vb = protowire.AppendFixed32(vb, math.Float32bits(v.SimpleValue))

			s = protowire.AppendTag(s, summaryValue, protowire.BytesType)
			s = protowire.AppendBytes(s, vb)
		}
		b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	return b
}

func unmarshalEvent(b []byte) (*Event, error) {
	e := &Event{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			e.WallTime = math.Float64frombits(v)
			return n, nil
		case num == eventStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Step = int64(v)
			return n, nil
		case num == eventFileVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.FileVersion = v
			return n, nil
		case num == eventSummary && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			values, err := unmarshalSummary(v)
			if err != nil {
				return 0, err
			}
			e.Values = append(e.Values, values...)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return e, nil
}

func unmarshalSummary(b []byte) ([]Value, error) {
	var values []Value
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != summaryValue || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		vb, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		var v Value
		err := walkFields(vb, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch {
			case num == valueTag && typ == protowire.BytesType:
				s, n := protowire.ConsumeString(b)
				v.Tag = s
				return n, nil
			case num == valueSimpleValue && typ == protowire.Fixed32Type:
				f, n := protowire.ConsumeFixed32(b)
				v.SimpleValue = math.Float32frombits(f)
				return n, nil
			}
			return protowire.ConsumeFieldValue(num, typ, b), nil
		})
		if err != nil {
			return 0, err
		}
		values = append(values, v)
		return n, nil
	})
	return values, err
}

// walkFields calls fn for every field of the message b. fn consumes the field
// value and returns the number of bytes read, or a negative protowire code.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}
