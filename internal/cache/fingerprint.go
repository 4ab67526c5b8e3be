package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Args are the arguments of one memoized call.
// Positional arguments keep their order; named arguments are sorted by name
// before encoding, so supply order never changes the key.
type Args struct {
	Positional []any
	Named      map[string]any
}

// Named is shorthand for Args with only named arguments.
func Named(kv map[string]any) Args {
	return Args{Named: kv}
}

// canonicalArgs is the encoded form: {"args":[...],"kwargs":[[name,value],...]}.
type canonicalArgs struct {
	Args   []any   `json:"args"`
	Kwargs [][]any `json:"kwargs"`
}

// Fingerprint returns "<fn>:<sha256 hex>" for the given function identity and
// arguments. The encoding is plain JSON with sorted named arguments, so it is
// stable across processes. Map values are encoded with sorted keys by
// encoding/json; values that cannot be marshaled fall back to fmt's %v.
func Fingerprint(fn string, args Args) string {
	names := make([]string, 0, len(args.Named))
	for name := range args.Named {
		names = append(names, name)
	}
	sort.Strings(names)

	c := canonicalArgs{
		Args:   make([]any, 0, len(args.Positional)),
		Kwargs: make([][]any, 0, len(names)),
	}
	for _, v := range args.Positional {
		c.Args = append(c.Args, encodable(v))
	}
	for _, name := range names {
		c.Kwargs = append(c.Kwargs, []any{name, encodable(args.Named[name])})
	}

	data, err := json.Marshal(c)
	if err != nil {
		// encodable already guards each value; this only trips on exotic nesting.
		data = []byte(fmt.Sprintf("%v", c))
	}
	sum := sha256.Sum256(data)
	return fn + ":" + hex.EncodeToString(sum[:])
}

// encodable returns the canonical form of v if encoding/json can marshal it,
// otherwise its %v string.
func encodable(v any) any {
	v = canonical(v)
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return v
}

// canonical rewrites slices and string-keyed maps, recursively, so that nil
// and empty encode the same way.
func canonical(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if rv.Len() == 0 {
				return []byte{}
			}
			return v
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = canonical(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Len() == 0 {
			return map[string]any{}
		}
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = canonical(iter.Value().Interface())
		}
		return out
	}
	return v
}
