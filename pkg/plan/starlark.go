package plan

import (
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/planpilot/planpilot/pkg/engine"
)

// starlarkTimeout bounds plan script execution. Plans are data with light
// logic on top; anything running longer is a runaway loop.
const starlarkTimeout = 10 * time.Second

// starlarkEvaluator executes .star plan files. A script exports its items
// either as an `items` global (a list of dicts) or as a `plan()` function
// returning such a list; when both are present the function wins.
type starlarkEvaluator struct {
	timeout time.Duration
}

func newStarlarkEvaluator() *starlarkEvaluator {
	return &starlarkEvaluator{timeout: starlarkTimeout}
}

// evaluate runs one plan script and returns its raw item records.
func (e *starlarkEvaluator) evaluate(filename string, src []byte) ([]map[string]interface{}, error) {
	thread := &starlark.Thread{Name: "plan:" + filename}

	done := make(chan struct{})
	timer := time.AfterFunc(e.timeout, func() {
		thread.Cancel("plan evaluation timed out")
		close(done)
	})
	defer timer.Stop()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"item":   starlark.NewBuiltin("item", builtinItem),
	}

	globals, err := starlark.ExecFile(thread, filename, src, predeclared)
	if err != nil {
		select {
		case <-done:
			return nil, engine.NewPlanLoadError(
				fmt.Sprintf("plan script %s exceeded the %s evaluation limit", filename, e.timeout), err)
		default:
		}
		return nil, engine.NewPlanLoadError("plan script evaluation failed", err)
	}

	var value starlark.Value
	if fn, ok := globals["plan"].(starlark.Callable); ok {
		value, err = starlark.Call(thread, fn, nil, nil)
		if err != nil {
			return nil, engine.NewPlanLoadError("plan() call failed", err)
		}
	} else if items, ok := globals["items"]; ok {
		value = items
	} else {
		return nil, engine.NewPlanLoadError(
			fmt.Sprintf("plan script %s defines neither an items list nor a plan() function", filename), nil)
	}

	return itemsFromStarlark(value)
}

// builtinItem builds one item dict from keyword arguments, so scripts can
// write item(id="T1", title="...") instead of spelling out dict literals.
func builtinItem(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("item: only keyword arguments are accepted")
	}
	dict := starlark.NewDict(len(kwargs))
	for _, kw := range kwargs {
		if err := dict.SetKey(kw[0], kw[1]); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

// itemsFromStarlark converts the exported value into raw item records.
func itemsFromStarlark(value starlark.Value) ([]map[string]interface{}, error) {
	list, ok := value.(*starlark.List)
	if !ok {
		return nil, engine.NewPlanLoadError(
			fmt.Sprintf("plan script must export a list of items, got %s", value.Type()), nil)
	}

	items := make([]map[string]interface{}, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		converted, err := fromStarlarkValue(list.Index(i))
		if err != nil {
			return nil, engine.NewPlanLoadError(fmt.Sprintf("item %d is not convertible", i), err)
		}
		record, ok := converted.(map[string]interface{})
		if !ok {
			return nil, engine.NewPlanLoadError(fmt.Sprintf("item %d is not a dict", i), nil)
		}
		items = append(items, record)
	}
	return items, nil
}

// fromStarlarkValue converts a Starlark value to its plain Go equivalent.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return nil, fmt.Errorf("integer out of range: %s", val.String())
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		out := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			converted, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case starlark.Tuple:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			converted, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, key := range val.Keys() {
			keyStr, ok := key.(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be a string, got %s", key.Type())
			}
			item, _, err := val.Get(key)
			if err != nil {
				return nil, err
			}
			converted, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			out[string(keyStr)] = converted
		}
		return out, nil
	case *starlarkstruct.Struct:
		dict := starlark.StringDict{}
		val.ToStringDict(dict)
		out := make(map[string]interface{}, len(dict))
		for name, field := range dict {
			converted, err := fromStarlarkValue(field)
			if err != nil {
				return nil, err
			}
			out[name] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", v.Type())
	}
}
