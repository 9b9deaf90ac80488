package property

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ChuLiYu/algorun/pkg/types"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// maxRangeItems bounds the expansion of "a:b" number ranges.
const maxRangeItems = 1 << 20

// ParseValue parses text into a value of type t.
//
// Strings are taken verbatim. Numbers use cty's string conversion. Booleans
// accept true/false, 1/0, yes/no and on/off. Lists are comma separated; number
// lists additionally accept inclusive integer ranges written "first:last".
func ParseValue(text string, t cty.Type) (cty.Value, error) {
	switch {
	case t.Equals(cty.String):
		return cty.StringVal(text), nil
	case t.Equals(cty.Number):
		return parseNumber(text)
	case t.Equals(cty.Bool):
		return parseBool(text)
	case t.IsListType():
		return parseList(text, t.ElementType())
	default:
		return cty.NilVal, fmt.Errorf("no parser for %s: %w", t.FriendlyName(), types.ErrTypeMismatch)
	}
}

func parseNumber(text string) (cty.Value, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return cty.NilVal, fmt.Errorf("empty text is not a number: %w", types.ErrTypeMismatch)
	}
	v, err := convert.Convert(cty.StringVal(s), cty.Number)
	if err != nil {
		return cty.NilVal, fmt.Errorf("cannot parse %q as number: %w", text, types.ErrTypeMismatch)
	}
	return v, nil
}

func parseBool(text string) (cty.Value, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "true", "1", "yes", "on":
		return cty.True, nil
	case "false", "0", "no", "off":
		return cty.False, nil
	}
	return cty.NilVal, fmt.Errorf("cannot parse %q as bool: %w", text, types.ErrTypeMismatch)
}

func parseList(text string, elem cty.Type) (cty.Value, error) {
	if strings.TrimSpace(text) == "" {
		return cty.ListValEmpty(elem), nil
	}
	var items []cty.Value
	for _, raw := range strings.Split(text, ",") {
		if elem.Equals(cty.Number) {
			if first, last, ok := splitRange(raw); ok {
				expanded, err := expandRange(first, last)
				if err != nil {
					return cty.NilVal, err
				}
				items = append(items, expanded...)
				continue
			}
		}
		var item string
		if elem.Equals(cty.String) {
			item = strings.TrimSpace(raw)
		} else {
			item = raw
		}
		v, err := ParseValue(item, elem)
		if err != nil {
			return cty.NilVal, err
		}
		items = append(items, v)
	}
	return cty.ListVal(items), nil
}

func splitRange(raw string) (string, string, bool) {
	first, last, found := strings.Cut(strings.TrimSpace(raw), ":")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(first), strings.TrimSpace(last), true
}

func expandRange(first, last string) ([]cty.Value, error) {
	lo, err := strconv.Atoi(first)
	if err != nil {
		return nil, fmt.Errorf("range start %q is not an integer: %w", first, types.ErrTypeMismatch)
	}
	hi, err := strconv.Atoi(last)
	if err != nil {
		return nil, fmt.Errorf("range end %q is not an integer: %w", last, types.ErrTypeMismatch)
	}
	step := 1
	span := uint64(hi) - uint64(lo)
	if hi < lo {
		step = -1
		span = uint64(lo) - uint64(hi)
	}
	if span >= maxRangeItems {
		return nil, fmt.Errorf("range %d:%d expands past %d items: %w", lo, hi, maxRangeItems, types.ErrValidation)
	}
	n := int(span) + 1
	out := make([]cty.Value, 0, n)
	for i := lo; ; i += step {
		out = append(out, cty.NumberIntVal(int64(i)))
		if i == hi {
			break
		}
	}
	return out, nil
}

// FormatValue renders v in the syntax ParseValue accepts.
func FormatValue(v cty.Value) string {
	if v.IsNull() || !v.IsKnown() {
		return ""
	}
	t := v.Type()
	switch {
	case t.Equals(cty.String):
		return v.AsString()
	case t.Equals(cty.Number):
		return formatNumber(v.AsBigFloat())
	case t.Equals(cty.Bool):
		return strconv.FormatBool(v.True())
	case t.IsListType() || t.IsTupleType() || t.IsSetType():
		parts := make([]string, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			parts = append(parts, FormatValue(ev))
		}
		return strings.Join(parts, ",")
	default:
		return v.GoString()
	}
}

func formatNumber(bf *big.Float) string {
	if bf.IsInt() {
		return bf.Text('f', 0)
	}
	f, _ := bf.Float64()
	return strconv.FormatFloat(f, 'g', -1, 64)
}
