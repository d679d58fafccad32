package jsonutil

import "encoding/json"

func MapToStruct(source map[string]any, target interface{}) error {
	data, err := json.Marshal(source)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, target)
}

func StructToMap(source interface{}) (map[string]any, error) {
	data, err := json.Marshal(source)
	if err != nil {
		return nil, err
	}

	var target map[string]any
	if err := json.Unmarshal(data, &target); err != nil {
		return nil, err
	}

	return target, nil
}

// Merge returns a new map holding defaults overridden by values. Nil values
// in overrides do not erase a default.
func Merge(defaults, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		if v == nil {
			continue
		}
		merged[k] = v
	}

	return merged
}

// Clone makes a shallow copy of m; nil stays nil.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	return Merge(nil, m)
}
