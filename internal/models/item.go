package models

import (
	"maps"
	"strconv"
	"strings"
)

// IDField is the identity column every persisted CCT row carries.
const IDField = "_ID"

// Item is one CCT row: field slug to value.
type Item map[string]any

// ID returns the item's identity. New items have none yet.
func (it Item) ID() (int64, bool) {
	v, ok := it[IDField]
	if !ok || v == nil {
		return 0, false
	}
	var id int64
	switch x := v.(type) {
	case int:
		id = int64(x)
	case int32:
		id = int64(x)
	case int64:
		id = x
	case uint64:
		id = int64(x)
	case float64:
		id = int64(x)
	case []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
		if err != nil {
			return 0, false
		}
		id = n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		id = n
	default:
		return 0, false
	}
	if id <= 0 {
		return 0, false
	}
	return id, true
}

// Clone returns a shallow copy of the item.
func (it Item) Clone() Item {
	if it == nil {
		return Item{}
	}
	return maps.Clone(it)
}

// Lookup returns the value stored under field and whether it was present.
func (it Item) Lookup(field string) (any, bool) {
	v, ok := it[field]
	return v, ok
}
