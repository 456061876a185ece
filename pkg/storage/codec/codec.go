// Package codec converts application values to and from the tagged envelope
// form shared by every storage backend. The envelope is self-describing JSON:
// integers and timestamps travel as strings so they survive backends whose
// native number type is float64.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// Kind identifies the type carried by a StoredValue.
type Kind string

const (
	KindNull   Kind = "null"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "str"
	KindTime   Kind = "time"
	KindBytes  Kind = "bytes"
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// ErrUnsupportedValue is the sentinel matched by errors.Is for any value the
// codec cannot represent losslessly.
var ErrUnsupportedValue = errors.New("unsupported value")

// ErrUnsupported carries the offending type alongside the sentinel.
type ErrUnsupported struct {
	Type string
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("codec: unsupported value type %s", e.Type)
}

func (e *ErrUnsupported) Is(target error) bool {
	return target == ErrUnsupportedValue
}

// StoredValue is the backend-portable representation of one application value.
// Exactly one of the payload fields is meaningful, selected by Kind.
type StoredValue struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Time  time.Time
	Bytes []byte
	List  []StoredValue
	Map   map[string]StoredValue
}

// Null is the encoded form of a nil value.
var Null = StoredValue{Kind: KindNull}

// Encode converts an application value into its StoredValue form.
// Supported inputs: nil, bool, all signed/unsigned integer widths, float32/64,
// string, time.Time, []byte, slices/arrays of supported values, and maps with
// string keys. Anything else fails with *ErrUnsupported.
func Encode(v any) (StoredValue, error) {
	switch t := v.(type) {
	case nil:
		return Null, nil
	case StoredValue:
		return t, nil
	case bool:
		return StoredValue{Kind: KindBool, Bool: t}, nil
	case int:
		return StoredValue{Kind: KindInt, Int: int64(t)}, nil
	case int8:
		return StoredValue{Kind: KindInt, Int: int64(t)}, nil
	case int16:
		return StoredValue{Kind: KindInt, Int: int64(t)}, nil
	case int32:
		return StoredValue{Kind: KindInt, Int: int64(t)}, nil
	case int64:
		return StoredValue{Kind: KindInt, Int: t}, nil
	case uint8:
		return StoredValue{Kind: KindInt, Int: int64(t)}, nil
	case uint16:
		return StoredValue{Kind: KindInt, Int: int64(t)}, nil
	case uint32:
		return StoredValue{Kind: KindInt, Int: int64(t)}, nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return Null, &ErrUnsupported{Type: "uint overflow"}
		}
		return StoredValue{Kind: KindInt, Int: int64(t)}, nil
	case uint64:
		if t > math.MaxInt64 {
			return Null, &ErrUnsupported{Type: "uint64 overflow"}
		}
		return StoredValue{Kind: KindInt, Int: int64(t)}, nil
	case float32:
		return encodeFloat(float64(t))
	case float64:
		return encodeFloat(t)
	case string:
		return StoredValue{Kind: KindString, Str: t}, nil
	case time.Time:
		return StoredValue{Kind: KindTime, Time: t}, nil
	case []byte:
		b := make([]byte, len(t))
		copy(b, t)
		return StoredValue{Kind: KindBytes, Bytes: b}, nil
	case []any:
		return encodeList(t)
	case map[string]any:
		return encodeStringMap(t)
	}
	return encodeReflect(v)
}

func encodeFloat(f float64) (StoredValue, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null, &ErrUnsupported{Type: "non-finite float"}
	}
	return StoredValue{Kind: KindFloat, Float: f}, nil
}

func encodeList(items []any) (StoredValue, error) {
	out := make([]StoredValue, len(items))
	for i, item := range items {
		sv, err := Encode(item)
		if err != nil {
			return Null, err
		}
		out[i] = sv
	}
	return StoredValue{Kind: KindList, List: out}, nil
}

func encodeStringMap(m map[string]any) (StoredValue, error) {
	out := make(map[string]StoredValue, len(m))
	for k, item := range m {
		sv, err := Encode(item)
		if err != nil {
			return Null, err
		}
		out[k] = sv
	}
	return StoredValue{Kind: KindMap, Map: out}, nil
}

// encodeReflect covers typed slices, arrays, string-keyed maps, and pointers
// that the type switch above does not see directly.
func encodeReflect(v any) (StoredValue, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null, nil
		}
		return Encode(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		items := make([]StoredValue, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			sv, err := Encode(rv.Index(i).Interface())
			if err != nil {
				return Null, err
			}
			items[i] = sv
		}
		return StoredValue{Kind: KindList, List: items}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Null, &ErrUnsupported{Type: rv.Type().String()}
		}
		out := make(map[string]StoredValue, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			sv, err := Encode(iter.Value().Interface())
			if err != nil {
				return Null, err
			}
			out[iter.Key().String()] = sv
		}
		return StoredValue{Kind: KindMap, Map: out}, nil
	}
	return Null, &ErrUnsupported{Type: reflect.TypeOf(v).String()}
}

// Decode converts a StoredValue back into its canonical application form:
// nil, bool, int64, float64, string, time.Time, []byte, []any, map[string]any.
func Decode(sv StoredValue) (any, error) {
	switch sv.Kind {
	case KindNull, "":
		return nil, nil
	case KindBool:
		return sv.Bool, nil
	case KindInt:
		return sv.Int, nil
	case KindFloat:
		return sv.Float, nil
	case KindString:
		return sv.Str, nil
	case KindTime:
		return sv.Time, nil
	case KindBytes:
		b := make([]byte, len(sv.Bytes))
		copy(b, sv.Bytes)
		return b, nil
	case KindList:
		out := make([]any, len(sv.List))
		for i, item := range sv.List {
			v, err := Decode(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case KindMap:
		out := make(map[string]any, len(sv.Map))
		for k, item := range sv.Map {
			v, err := Decode(item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("codec: unknown stored value kind %q", sv.Kind)
}

// Equal reports whether two stored values represent the same application
// value. Timestamps compare by instant, not wall-clock representation.
func (sv StoredValue) Equal(other StoredValue) bool {
	if sv.Kind != other.Kind {
		return false
	}
	switch sv.Kind {
	case KindNull, "":
		return true
	case KindBool:
		return sv.Bool == other.Bool
	case KindInt:
		return sv.Int == other.Int
	case KindFloat:
		return sv.Float == other.Float
	case KindString:
		return sv.Str == other.Str
	case KindTime:
		return sv.Time.Equal(other.Time)
	case KindBytes:
		return bytes.Equal(sv.Bytes, other.Bytes)
	case KindList:
		if len(sv.List) != len(other.List) {
			return false
		}
		for i := range sv.List {
			if !sv.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(sv.Map) != len(other.Map) {
			return false
		}
		for k, v := range sv.Map {
			ov, ok := other.Map[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// envelope is the JSON wire form of a StoredValue.
type envelope struct {
	T Kind            `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

// MarshalJSON renders the tagged envelope form. Map keys are emitted in sorted
// order so the wire form is deterministic across backends.
func (sv StoredValue) MarshalJSON() ([]byte, error) {
	env := envelope{T: sv.Kind}
	if env.T == "" {
		env.T = KindNull
	}

	var err error
	switch sv.Kind {
	case KindNull, "":
		// No payload.
	case KindBool:
		env.V, err = json.Marshal(sv.Bool)
	case KindInt:
		env.V, err = json.Marshal(strconv.FormatInt(sv.Int, 10))
	case KindFloat:
		env.V, err = json.Marshal(sv.Float)
	case KindString:
		env.V, err = json.Marshal(sv.Str)
	case KindTime:
		env.V, err = json.Marshal(sv.Time.Format(time.RFC3339Nano))
	case KindBytes:
		env.V, err = json.Marshal(base64.StdEncoding.EncodeToString(sv.Bytes))
	case KindList:
		parts := make([]json.RawMessage, len(sv.List))
		for i, item := range sv.List {
			parts[i], err = item.MarshalJSON()
			if err != nil {
				return nil, err
			}
		}
		env.V, err = json.Marshal(parts)
	case KindMap:
		keys := make([]string, 0, len(sv.Map))
		for k := range sv.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, kerr := json.Marshal(k)
			if kerr != nil {
				return nil, kerr
			}
			vb, verr := sv.Map[k].MarshalJSON()
			if verr != nil {
				return nil, verr
			}
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
		buf.WriteByte('}')
		env.V = buf.Bytes()
	default:
		return nil, fmt.Errorf("codec: cannot marshal kind %q", sv.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalJSON parses the tagged envelope form.
func (sv *StoredValue) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("codec: parse envelope: %w", err)
	}

	out := StoredValue{Kind: env.T}
	switch env.T {
	case KindNull:
	case KindBool:
		if err := json.Unmarshal(env.V, &out.Bool); err != nil {
			return fmt.Errorf("codec: parse bool payload: %w", err)
		}
	case KindInt:
		var s string
		if err := json.Unmarshal(env.V, &s); err != nil {
			return fmt.Errorf("codec: parse int payload: %w", err)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("codec: parse int payload: %w", err)
		}
		out.Int = n
	case KindFloat:
		if err := json.Unmarshal(env.V, &out.Float); err != nil {
			return fmt.Errorf("codec: parse float payload: %w", err)
		}
	case KindString:
		if err := json.Unmarshal(env.V, &out.Str); err != nil {
			return fmt.Errorf("codec: parse string payload: %w", err)
		}
	case KindTime:
		var s string
		if err := json.Unmarshal(env.V, &s); err != nil {
			return fmt.Errorf("codec: parse time payload: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("codec: parse time payload: %w", err)
		}
		out.Time = ts
	case KindBytes:
		var s string
		if err := json.Unmarshal(env.V, &s); err != nil {
			return fmt.Errorf("codec: parse bytes payload: %w", err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("codec: parse bytes payload: %w", err)
		}
		out.Bytes = b
	case KindList:
		var parts []json.RawMessage
		if err := json.Unmarshal(env.V, &parts); err != nil {
			return fmt.Errorf("codec: parse list payload: %w", err)
		}
		out.List = make([]StoredValue, len(parts))
		for i, part := range parts {
			if err := out.List[i].UnmarshalJSON(part); err != nil {
				return err
			}
		}
	case KindMap:
		var parts map[string]json.RawMessage
		if err := json.Unmarshal(env.V, &parts); err != nil {
			return fmt.Errorf("codec: parse map payload: %w", err)
		}
		out.Map = make(map[string]StoredValue, len(parts))
		for k, part := range parts {
			var item StoredValue
			if err := item.UnmarshalJSON(part); err != nil {
				return err
			}
			out.Map[k] = item
		}
	default:
		return fmt.Errorf("codec: unknown stored value kind %q", env.T)
	}

	*sv = out
	return nil
}

// Marshal is a convenience wrapper producing the canonical wire bytes.
func Marshal(sv StoredValue) ([]byte, error) {
	return sv.MarshalJSON()
}

// Unmarshal parses canonical wire bytes back into a StoredValue.
func Unmarshal(data []byte) (StoredValue, error) {
	var sv StoredValue
	if err := sv.UnmarshalJSON(data); err != nil {
		return Null, err
	}
	return sv, nil
}

// EncodeFields encodes every value of a field map, preserving keys.
func EncodeFields(fields map[string]any) (map[string]StoredValue, error) {
	out := make(map[string]StoredValue, len(fields))
	for k, v := range fields {
		sv, err := Encode(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = sv
	}
	return out, nil
}

// DecodeFields decodes every value of an encoded field map.
func DecodeFields(fields map[string]StoredValue) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, sv := range fields {
		v, err := Decode(sv)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// MarshalFields renders an encoded field map as one JSON object of envelopes.
func MarshalFields(fields map[string]StoredValue) ([]byte, error) {
	return StoredValue{Kind: KindMap, Map: fields}.MarshalJSON()
}

// UnmarshalFields parses a JSON object of envelopes back into a field map.
func UnmarshalFields(data []byte) (map[string]StoredValue, error) {
	sv, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if sv.Kind != KindMap {
		return nil, fmt.Errorf("codec: expected map envelope, got %q", sv.Kind)
	}
	if sv.Map == nil {
		return map[string]StoredValue{}, nil
	}
	return sv.Map, nil
}
