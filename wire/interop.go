package wire

import "fmt"

// toInterface flattens a Value into the plain Go shapes vmihailenco/msgpack
// marshals natively, so the fields map serializes losslessly without a
// bespoke CustomEncoder per variant.
func toInterface(v Value) interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindStr:
		return v.Str
	case KindBytes:
		return v.Bytes
	case KindArray:
		out := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			out[i] = toInterface(e)
		}
		return out
	case KindMap:
		out := make(map[interface{}]interface{}, len(v.Map))
		for k, val := range v.Map {
			if k.IsString {
				out[k.Str] = toInterface(val)
			} else {
				out[k.Int] = toInterface(val)
			}
		}
		return out
	}
	return nil
}

// fromInterface rebuilds a Value tree from whatever vmihailenco/msgpack
// decoded into an interface{} (bool, int64/uint64, float32/64, string,
// []byte, []interface{}, map[interface{}]interface{}).
func fromInterface(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case int:
		return Int(int64(t)), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Int(int64(t)), nil
	case uint:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return Str(t), nil
	case []byte:
		return Bytes(t), nil
	case []interface{}:
		arr := make([]Value, len(t))
		for i, e := range t {
			v, err := fromInterface(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Array(arr), nil
	case map[string]interface{}:
		m := make(map[MapKey]Value, len(t))
		for k, e := range t {
			v, err := fromInterface(e)
			if err != nil {
				return Value{}, err
			}
			m[StrKey(k)] = v
		}
		return Map(m), nil
	case map[interface{}]interface{}:
		m := make(map[MapKey]Value, len(t))
		for k, e := range t {
			mk, err := mapKeyFromInterface(k)
			if err != nil {
				return Value{}, err
			}
			v, err := fromInterface(e)
			if err != nil {
				return Value{}, err
			}
			m[mk] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("wire: unsupported decoded type %T", x)
	}
}

func mapKeyFromInterface(x interface{}) (MapKey, error) {
	switch t := x.(type) {
	case string:
		return StrKey(t), nil
	case int:
		return IntKey(int64(t)), nil
	case int8:
		return IntKey(int64(t)), nil
	case int16:
		return IntKey(int64(t)), nil
	case int32:
		return IntKey(int64(t)), nil
	case int64:
		return IntKey(t), nil
	case uint:
		return IntKey(int64(t)), nil
	case uint8:
		return IntKey(int64(t)), nil
	case uint16:
		return IntKey(int64(t)), nil
	case uint32:
		return IntKey(int64(t)), nil
	case uint64:
		return IntKey(int64(t)), nil
	default:
		return MapKey{}, fmt.Errorf("wire: unsupported map key type %T", x)
	}
}
