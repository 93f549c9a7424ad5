package plugin

import "fmt"

// Options is the raw option mapping of a plugin config entry. YAML hands us
// map[string]any with []any and nested maps; these accessors normalize the
// scalar shapes plugins care about.
type Options map[string]any

func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return def
}

func (o Options) StringSlice(key string) []string {
	v, ok := o[key]
	if !ok {
		return nil
	}
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		return []string{vs}
	}
	return nil
}

func (o Options) IntSlice(key string) []int {
	v, ok := o[key]
	if !ok {
		return nil
	}
	switch vs := v.(type) {
	case []int:
		return vs
	case []any:
		out := make([]int, 0, len(vs))
		for _, item := range vs {
			switch n := item.(type) {
			case int:
				out = append(out, n)
			case int64:
				out = append(out, int(n))
			case float64:
				out = append(out, int(n))
			}
		}
		return out
	}
	return nil
}

func (o Options) StringMap(key string) map[string]string {
	v, ok := o[key]
	if !ok {
		return nil
	}
	switch vm := v.(type) {
	case map[string]string:
		return vm
	case map[string]any:
		out := make(map[string]string, len(vm))
		for k, item := range vm {
			out[k] = fmt.Sprintf("%v", item)
		}
		return out
	}
	return nil
}

// Section returns a nested option mapping, e.g. the "add" block of a
// transformer.
func (o Options) Section(key string) Options {
	v, ok := o[key]
	if !ok {
		return nil
	}
	switch vm := v.(type) {
	case map[string]any:
		return Options(vm)
	case Options:
		return vm
	}
	return nil
}

// AnyMap returns a nested mapping with its values untouched, for JSON body
// merges.
func (o Options) AnyMap(key string) map[string]any {
	v, ok := o[key]
	if !ok {
		return nil
	}
	if vm, ok := v.(map[string]any); ok {
		return vm
	}
	return nil
}
