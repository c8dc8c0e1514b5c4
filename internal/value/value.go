package value

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrInvalidValue = errors.New("invalid value")

// Value 是封闭集合内的带标签值，零值无效
type Value struct {
	typ DataType
	v   any
}

func Boolean(b bool) Value          { return Value{typ: TypeBoolean, v: b} }
func Double(f float64) Value        { return Value{typ: TypeDouble, v: f} }
func Int(i int64) Value             { return Value{typ: TypeInt, v: i} }
func Float(f float32) Value         { return Value{typ: TypeFloat, v: f} }
func String(s string) Value         { return Value{typ: TypeString, v: s} }
func Raw(b []byte) Value            { return Value{typ: TypeRaw, v: cloneSlice(b)} }
func BooleanArray(b []bool) Value   { return Value{typ: TypeBooleanArray, v: cloneSlice(b)} }
func DoubleArray(f []float64) Value { return Value{typ: TypeDoubleArray, v: cloneSlice(f)} }
func IntArray(i []int64) Value      { return Value{typ: TypeIntArray, v: cloneSlice(i)} }
func FloatArray(f []float32) Value  { return Value{typ: TypeFloatArray, v: cloneSlice(f)} }
func StringArray(s []string) Value  { return Value{typ: TypeStringArray, v: cloneSlice(s)} }

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func (v Value) Type() DataType {
	return v.typ
}

func (v Value) IsValid() bool {
	return v.v != nil && v.typ.Valid()
}

func (v Value) AsDouble() (float64, bool) {
	f, ok := v.v.(float64)
	return f, ok && v.typ == TypeDouble
}

func (v Value) AsInt() (int64, bool) {
	i, ok := v.v.(int64)
	return i, ok && v.typ == TypeInt
}

func (v Value) AsString() (string, bool) {
	s, ok := v.v.(string)
	return s, ok && v.typ == TypeString
}

func (v Value) AsRaw() ([]byte, bool) {
	b, ok := v.v.([]byte)
	return b, ok && v.typ == TypeRaw
}

func (v Value) Equal(other Value) bool {
	return v.typ == other.typ && reflect.DeepEqual(v.v, other.v)
}

func (v Value) String() string {
	if !v.IsValid() {
		return "<invalid>"
	}
	return fmt.Sprintf("%s(%v)", v.typ, v.v)
}

var _ msgpack.CustomEncoder = Value{}
var _ msgpack.CustomDecoder = (*Value)(nil)

// EncodeMsgpack 编码为 [typeId, payload]
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	if !v.IsValid() {
		return ErrInvalidValue
	}
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(v.typ)); err != nil {
		return err
	}
	switch x := v.v.(type) {
	case bool:
		return enc.EncodeBool(x)
	case float64:
		return enc.EncodeFloat64(x)
	case int64:
		return enc.EncodeInt(x)
	case float32:
		return enc.EncodeFloat32(x)
	case string:
		return enc.EncodeString(x)
	case []byte:
		return enc.EncodeBytes(x)
	case []bool:
		return encodeArray(enc, x, enc.EncodeBool)
	case []float64:
		return encodeArray(enc, x, enc.EncodeFloat64)
	case []int64:
		return encodeArray(enc, x, enc.EncodeInt)
	case []float32:
		return encodeArray(enc, x, enc.EncodeFloat32)
	case []string:
		return encodeArray(enc, x, enc.EncodeString)
	}
	return fmt.Errorf("%w: unsupported payload %T", ErrInvalidValue, v.v)
}

func encodeArray[T any](enc *msgpack.Encoder, items []T, encode func(T) error) error {
	if err := enc.EncodeArrayLen(len(items)); err != nil {
		return err
	}
	for _, item := range items {
		if err := encode(item); err != nil {
			return err
		}
	}
	return nil
}

func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("%w: expected [type, payload], got %d elements", ErrInvalidValue, n)
	}
	id, err := dec.DecodeUint8()
	if err != nil {
		return err
	}
	typ := DataType(id)

	var payload any
	switch typ {
	case TypeBoolean:
		payload, err = dec.DecodeBool()
	case TypeDouble:
		payload, err = dec.DecodeFloat64()
	case TypeInt:
		payload, err = dec.DecodeInt64()
	case TypeFloat:
		payload, err = dec.DecodeFloat32()
	case TypeString:
		payload, err = dec.DecodeString()
	case TypeRaw:
		var b []byte
		b, err = dec.DecodeBytes()
		payload = cloneSlice(b)
	case TypeBooleanArray:
		payload, err = decodeArray(dec, dec.DecodeBool)
	case TypeDoubleArray:
		payload, err = decodeArray(dec, dec.DecodeFloat64)
	case TypeIntArray:
		payload, err = decodeArray(dec, dec.DecodeInt64)
	case TypeFloatArray:
		payload, err = decodeArray(dec, dec.DecodeFloat32)
	case TypeStringArray:
		payload, err = decodeArray(dec, dec.DecodeString)
	default:
		return fmt.Errorf("%w: unknown type id %d", ErrInvalidValue, id)
	}
	if err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrInvalidValue, typ, err)
	}
	v.typ = typ
	v.v = payload
	return nil
}

func decodeArray[T any](dec *msgpack.Decoder, decode func() (T, error)) ([]T, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return []T{}, nil
	}
	items := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, err := decode()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
