package visitor

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Cursors are the _id of the last visited document, tagged with its BSON
// kind so it decodes back to a value of the same type.
const (
	oidPrefix = "oid:"
	strPrefix = "str:"
	intPrefix = "int:"
)

// EncodeCursor renders a document _id as an opaque cursor.
func EncodeCursor(id any) (string, error) {
	switch v := id.(type) {
	case primitive.ObjectID:
		return oidPrefix + v.Hex(), nil
	case string:
		return strPrefix + v, nil
	case int32:
		return intPrefix + strconv.FormatInt(int64(v), 10), nil
	case int64:
		return intPrefix + strconv.FormatInt(v, 10), nil
	case int:
		return intPrefix + strconv.Itoa(v), nil
	default:
		return "", fmt.Errorf("unsupported _id type %T", id)
	}
}

// DecodeCursor returns the _id a cursor was made from. The empty cursor
// decodes to nil, meaning the start of the collection.
func DecodeCursor(cursor string) (any, error) {
	switch {
	case cursor == "":
		return nil, nil
	case strings.HasPrefix(cursor, oidPrefix):
		return primitive.ObjectIDFromHex(strings.TrimPrefix(cursor, oidPrefix))
	case strings.HasPrefix(cursor, strPrefix):
		return strings.TrimPrefix(cursor, strPrefix), nil
	case strings.HasPrefix(cursor, intPrefix):
		return strconv.ParseInt(strings.TrimPrefix(cursor, intPrefix), 10, 64)
	default:
		return nil, fmt.Errorf("malformed cursor %q", cursor)
	}
}
