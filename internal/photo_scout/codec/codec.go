// Package codec 负责落库字段与导出文件（JSON）之间的类型转换。
//
// JSON 没有时间和坐标类型，导出时时间写成 RFC 3339 字符串、坐标写成
// {latitude, longitude}。导入时按 Schema 声明的字段路径还原类型，
// 不再根据字段名猜测。
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"photo-scout/internal/photo_scout/model"
)

var ErrUnsupportedType = errors.New("unsupported type")

// Kind 字段还原的目标类型
type Kind int

const (
	Time Kind = iota + 1
	GeoPoint
	Int
	Float
)

// Schema 字段路径（点号分隔，如 "location.position"）-> 目标类型
type Schema map[string]Kind

// PhotoSchema 照片记录的字段类型声明
var PhotoSchema = Schema{
	"created":           Time,
	"location.position": GeoPoint,
	"likes":             Int,
	"exif.iso":          Int,
}

// Encode 把落库值转换成可写入 JSON 的结构
func Encode(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, json.Number:
		return t, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: non-finite float %v", ErrUnsupportedType, t)
		}
		return t, nil
	case time.Time:
		return t.Format(time.RFC3339Nano), nil
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano), nil
	case model.GeoPoint:
		return map[string]any{"latitude": t.Latitude, "longitude": t.Longitude}, nil
	case *model.GeoPoint:
		if t == nil {
			return nil, nil
		}
		return map[string]any{"latitude": t.Latitude, "longitude": t.Longitude}, nil
	case map[string]any:
		return encodeMap(t)
	case primitive.M:
		return encodeMap(t)
	case primitive.D:
		return encodeMap(t.Map())
	case []any:
		return encodeSlice(t)
	case primitive.A:
		return encodeSlice(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func encodeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		ev, err := Encode(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = ev
	}
	return out, nil
}

func encodeSlice(s []any) ([]any, error) {
	out := make([]any, len(s))
	for i, v := range s {
		ev, err := Encode(v)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = ev
	}
	return out, nil
}

// EncodeFields 编码一个文档的全部字段
func EncodeFields(fields map[string]any) (map[string]any, error) {
	return encodeMap(fields)
}

// Decode 按 schema 还原 JSON 值，path 为当前字段路径（顶层传 ""）。
// 不在 schema 中的数字：整数还原为 int，其余为 float64。
func Decode(v any, schema Schema, path string) (any, error) {
	if kind, ok := schema[path]; ok && path != "" {
		return decodeKind(v, kind, path)
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			dv, err := Decode(child, schema, join(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			dv, err := Decode(child, schema, path)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	case json.Number:
		return decodeNumber(t), nil
	default:
		return t, nil
	}
}

// DecodeFields 解码一个文档的全部字段
func DecodeFields(fields map[string]any, schema Schema) (map[string]any, error) {
	v, err := Decode(fields, schema, "")
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func decodeKind(v any, kind Kind, path string) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case Time:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(path, "timestamp string", v)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedType, path, err)
		}
		return t, nil
	case GeoPoint:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch(path, "geo point object", v)
		}
		lat, okLat := toFloat(m["latitude"])
		lon, okLon := toFloat(m["longitude"])
		if !okLat || !okLon {
			return nil, mismatch(path, "latitude/longitude", v)
		}
		return model.GeoPoint{Latitude: lat, Longitude: lon}, nil
	case Int:
		switch n := v.(type) {
		case json.Number:
			i, err := strconv.ParseInt(n.String(), 10, 0)
			if err != nil {
				return nil, mismatch(path, "integer", v)
			}
			return int(i), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, mismatch(path, "integer", v)
			}
			return int(n), nil
		case int:
			return n, nil
		}
		return nil, mismatch(path, "integer", v)
	case Float:
		f, ok := toFloat(v)
		if !ok {
			return nil, mismatch(path, "number", v)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s: unknown schema kind %d", ErrUnsupportedType, path, kind)
}

func decodeNumber(n json.Number) any {
	if i, err := strconv.ParseInt(n.String(), 10, 0); err == nil {
		return int(i)
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func mismatch(path, want string, got any) error {
	return fmt.Errorf("%w: %s: want %s, got %s", ErrUnsupportedType, path, want, reflect.TypeOf(got))
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
