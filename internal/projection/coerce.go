package projection

import (
	"encoding/json"
	"errors"
	"fmt"
	stdmath "math"
	"math/big"
	"strconv"
	"strings"

	"LendingLedger/internal/address"
)

var (
	ErrUnknownKind  = errors.New("no projector for event type")
	ErrMissingField = errors.New("missing field")
	ErrBadField     = errors.New("malformed field")
	ErrNotObject    = errors.New("payload is not an object")
)

// fields reads typed values out of a decoded payload. The first failure is
// kept and every later read becomes a no-op, so a projector can read all of
// its fields and check err once.
type fields struct {
	m   map[string]any
	err error
}

func (f *fields) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

func (f *fields) get(name string) (any, bool) {
	if f.err != nil {
		return nil, false
	}
	v, ok := f.m[name]
	if !ok || v == nil {
		f.fail(fmt.Errorf("%w: %s", ErrMissingField, name))
		return nil, false
	}
	return v, true
}

// amount returns a base-10 integer string. JSON numbers are truncated toward
// zero.
func (f *fields) amount(name string) string {
	v, ok := f.get(name)
	if !ok {
		return ""
	}
	s, ok := integerString(v)
	if !ok {
		f.fail(fmt.Errorf("%w: %s is not an integer", ErrBadField, name))
		return ""
	}
	return s
}

func (f *fields) identity(name string) address.Identity {
	v, ok := f.get(name)
	if !ok {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		f.fail(fmt.Errorf("%w: %s is not a string", ErrBadField, name))
		return ""
	}
	id, err := address.NormalizeIdentity(s)
	if err != nil {
		f.fail(fmt.Errorf("%w: %s: %v", ErrBadField, name, err))
		return ""
	}
	return id
}

// flag only accepts JSON booleans.
func (f *fields) flag(name string) bool {
	v, ok := f.get(name)
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	if !isBool {
		f.fail(fmt.Errorf("%w: %s is not a boolean", ErrBadField, name))
		return false
	}
	return b
}

// timestamp is optional: an absent or unusable value is nil and does not
// fail the projection.
func (f *fields) timestamp(name string) *int64 {
	if f.err != nil {
		return nil
	}
	v, ok := f.m[name]
	if !ok || v == nil {
		return nil
	}
	s, ok := integerString(v)
	if !ok {
		return nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || !n.IsInt64() {
		return nil
	}
	ts := n.Int64()
	return &ts
}

// maxIntegerDigits bounds coerced integers to what fits in a u256 and in the
// store's NUMERIC(78,0) columns.
const maxIntegerDigits = 78

// integerString coerces string, json.Number and CLValue-wrapped values
// ({"U256": ...}) to canonical base-10 form. Strings must already be
// integers; numbers may carry a fraction or an exponent and are truncated
// toward zero. Results wider than maxIntegerDigits are rejected.
func integerString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		digits := strings.TrimLeft(s, "+-")
		if s == "" || len(strings.TrimLeft(digits, "0")) > maxIntegerDigits {
			return "", false
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return "", false
		}
		return n.String(), true
	case json.Number:
		return truncateDecimal(x.String())
	case float64:
		if stdmath.IsNaN(x) || stdmath.IsInf(x, 0) {
			return "", false
		}
		return truncateDecimal(strconv.FormatFloat(x, 'g', -1, 64))
	case map[string]any:
		if len(x) != 1 {
			return "", false
		}
		for _, key := range clIntegerKeys {
			if inner, ok := x[key]; ok {
				return integerString(inner)
			}
		}
		return "", false
	default:
		return "", false
	}
}

var clIntegerKeys = []string{"U8", "U32", "U64", "U128", "U256", "U512", "I32", "I64"}

// truncateDecimal turns a JSON number literal into its integer part without
// materializing anything wider than maxIntegerDigits.
func truncateDecimal(lit string) (string, bool) {
	neg := strings.HasPrefix(lit, "-")
	lit = strings.TrimPrefix(lit, "-")

	mantissa, expPart, hasExp := strings.Cut(strings.ToLower(lit), "e")
	exp := 0
	if hasExp {
		var err error
		if exp, err = strconv.Atoi(expPart); err != nil {
			return "", false
		}
	}
	intPart, fracPart, _ := strings.Cut(mantissa, ".")
	digits := intPart + fracPart
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return "", false
	}

	// point is the position of the decimal point within digits.
	trimmed := strings.TrimLeft(digits, "0")
	point := len(intPart) - (len(digits) - len(trimmed))
	digits = trimmed
	switch {
	case digits == "" || exp < -len(digits)-len(intPart):
		return "0", true
	case exp > maxIntegerDigits+len(mantissa):
		return "", false
	}
	point += exp
	if point > maxIntegerDigits {
		return "", false
	}

	var out string
	switch {
	case point <= 0:
		return "0", true
	case point >= len(digits):
		out = digits + strings.Repeat("0", point-len(digits))
	default:
		out = digits[:point]
	}
	if neg {
		out = "-" + out
	}
	return out, true
}
