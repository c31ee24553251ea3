package query

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"time"

	"github.com/marcboeker/go-duckdb/v2"
)

type float64er interface {
	Float64() float64
}

// normalizeValue folds driver-specific scan results into values that encode
// the same way for every store: integers as int64, reals as float64, times as RFC 3339.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case []byte:
		return string(typed)
	case string, bool, int64, float64:
		return typed
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	case *big.Int:
		if typed.IsInt64() {
			return typed.Int64()
		}
		return typed.String()
	case duckdb.Decimal:
		return typed.Float64()
	case float64er:
		return typed.Float64()
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = normalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[fmt.Sprint(key)] = normalizeValue(item)
		}
		return out
	case fmt.Stringer:
		return typed.String()
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if u := v.Uint(); u <= math.MaxInt64 {
			return int64(u)
		}
		return float64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return v.Bool()
	default:
		return fmt.Sprint(value)
	}
}
