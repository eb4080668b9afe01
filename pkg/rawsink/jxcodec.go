/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package rawsink

import (
	"github.com/go-faster/jx"
)

// encodeRow streams an arbitrary JSON object (payload row or metadata
// record) into e. jx's generated-code ergonomics assume a known schema;
// rows coming out of the extractor's jq flattening have a shape only known
// at runtime, so this walks the map/slice/scalar tree directly against the
// token-level encoder API instead.
func encodeRow(e *jx.Encoder, row Row) {
	encodeValue(e, map[string]any(row))
}

// EncodeRow is the exported form of encodeRow, for callers outside this
// package (the curated sink) that need the same dynamic-shape JSON
// encoding without duplicating it.
func EncodeRow(e *jx.Encoder, row Row) {
	encodeRow(e, row)
}

func encodeValue(e *jx.Encoder, v any) {
	switch val := v.(type) {
	case nil:
		e.Null()
	case bool:
		e.Bool(val)
	case string:
		e.Str(val)
	case int:
		e.Int(val)
	case int64:
		e.Int64(val)
	case float64:
		e.Float64(val)
	case map[string]any:
		e.ObjStart()
		for k, fv := range val {
			e.FieldStart(k)
			encodeValue(e, fv)
		}
		e.ObjEnd()
	case []any:
		e.ArrStart()
		for _, item := range val {
			encodeValue(e, item)
		}
		e.ArrEnd()
	default:
		e.Str(fmtFallback(val))
	}
}

// decodeRow parses one JSON object into a Row, widening numbers to
// float64 and objects/arrays to map[string]any/[]any, matching
// encoding/json's default untyped-decode conventions so downstream
// consumers (validator record counts, consume previews) don't need to care
// which codec produced the value.
func decodeRow(data []byte) (Row, error) {
	d := jx.DecodeBytes(data)
	v, err := decodeAny(d)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	return Row(m), nil
}

func decodeAny(d *jx.Decoder) (any, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.Bool:
		return d.Bool()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		return n.Float64()
	case jx.String:
		return d.Str()
	case jx.Array:
		var out []any
		err := d.Arr(func(d *jx.Decoder) error {
			item, err := decodeAny(d)
			if err != nil {
				return err
			}
			out = append(out, item)
			return nil
		})
		return out, err
	case jx.Object:
		out := map[string]any{}
		err := d.Obj(func(d *jx.Decoder, key string) error {
			item, err := decodeAny(d)
			if err != nil {
				return err
			}
			out[key] = item
			return nil
		})
		return out, err
	default:
		return nil, d.Skip()
	}
}

func fmtFallback(v any) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	return ""
}
