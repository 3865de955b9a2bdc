package jetdb

import (
	"fmt"
	"reflect"

	"github.com/elliotchance/phpserialize"
)

// encodeValue converts a Go value into a column argument. Scalars are passed
// through; slices and maps are PHP-serialised, which is how JetEngine stores
// checkbox and repeater columns.
func encodeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int, int32, int64, float64, []byte:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		data, err := phpserialize.Marshal(v, nil)
		if err != nil {
			return nil, fmt.Errorf("jetdb: serialize %T: %w", v, err)
		}
		return string(data), nil
	}
	return fmt.Sprint(v), nil
}
