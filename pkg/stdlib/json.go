package stdlib

import (
	"encoding/json"

	"github.com/pkg/errors"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

// registerJSONNatives installs json_parse/json_generate.
func registerJSONNatives(machine *vm.VM) {
	machine.RegisterGlobal("json_parse", native("json_parse", 1, func(args []value.Value) (value.Value, error) {
		s, err := wantString(args, 0, "json_parse")
		if err != nil {
			return nil, err
		}
		var decoded interface{}
		if jsonErr := json.Unmarshal([]byte(s), &decoded); jsonErr != nil {
			return value.Nil{}, nil // soft failure: malformed JSON degrades to Nil
		}
		return jsonToValue(decoded), nil
	}))

	machine.RegisterGlobal("json_generate", native("json_generate", 1, func(args []value.Value) (value.Value, error) {
		out, err := valueToJSON(args[0])
		if err != nil {
			return nil, errors.Wrap(err, "json_generate")
		}
		encoded, marshalErr := json.Marshal(out)
		if marshalErr != nil {
			return nil, errors.Wrap(marshalErr, "json_generate")
		}
		return value.String(encoded), nil
	}))
}

// jsonToValue lifts the result of encoding/json's default decoding
// (nil, bool, float64, string, []interface{}, map[string]interface{})
// into the value universe.
func jsonToValue(v interface{}) value.Value {
	switch t := v.(type) {
	case nil:
		return value.Nil{}
	case bool:
		return value.Bool(t)
	case float64:
		return value.Integer(int64(t))
	case string:
		return value.String(t)
	case []interface{}:
		elems := make([]value.Value, len(t))
		for i, el := range t {
			elems[i] = jsonToValue(el)
		}
		return value.NewList(elems)
	case map[string]interface{}:
		d := value.NewDict()
		for k, val := range t {
			d.Set(k, jsonToValue(val))
		}
		return d
	default:
		return value.Nil{}
	}
}

// valueToJSON projects a Value back to a plain Go value encoding/json
// can marshal, preserving Dict insertion order via an ordered map (which
// the json package marshals key-by-key in MarshalJSON order).
func valueToJSON(v value.Value) (interface{}, error) {
	switch t := v.(type) {
	case value.Nil:
		return nil, nil
	case value.Bool:
		return bool(t), nil
	case value.Integer:
		return int64(t), nil
	case value.String:
		return string(t), nil
	case *value.List:
		out := make([]interface{}, len(t.Elements))
		for i, el := range t.Elements {
			v, err := valueToJSON(el)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *value.Dict:
		out := orderedmap.New[string, interface{}]()
		for pair := t.Items.Oldest(); pair != nil; pair = pair.Next() {
			v, err := valueToJSON(pair.Value)
			if err != nil {
				return nil, err
			}
			out.Set(pair.Key, v)
		}
		return out, nil
	default:
		return nil, errors.Errorf("json_generate: cannot encode value of kind %s", v.Kind())
	}
}
