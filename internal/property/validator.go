package property

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Validator classifies a candidate value as accepted (nil) or rejected with a
// human readable reason.
type Validator interface {
	Validate(v cty.Value) error
}

// Func adapts a plain function to the Validator interface.
type Func func(v cty.Value) error

func (f Func) Validate(v cty.Value) error { return f(v) }

type allOf []Validator

// AllOf accepts a value only when every validator accepts it. Evaluation stops
// at the first rejection and only that reason is reported.
func AllOf(vs ...Validator) Validator {
	flat := make(allOf, 0, len(vs))
	for _, v := range vs {
		switch inner := v.(type) {
		case nil:
		case allOf:
			flat = append(flat, inner...)
		default:
			flat = append(flat, v)
		}
	}
	return flat
}

func (a allOf) Validate(v cty.Value) error {
	for _, sub := range a {
		if err := sub.Validate(v); err != nil {
			return err
		}
	}
	return nil
}

// Mandatory rejects empty strings and empty lists.
func Mandatory() Validator {
	return Func(func(v cty.Value) error {
		if v.IsNull() {
			return errors.New("a value is required")
		}
		t := v.Type()
		switch {
		case t.Equals(cty.String) && strings.TrimSpace(v.AsString()) == "":
			return errors.New("a value is required")
		case t.IsListType() && v.LengthInt() == 0:
			return errors.New("at least one value is required")
		}
		return nil
	})
}

type bound struct {
	limit     *big.Float
	lower     bool
	exclusive bool
}

// AtLeast rejects numbers below min. For number lists every element is checked.
func AtLeast(min float64) Validator {
	return bound{limit: big.NewFloat(min), lower: true}
}

// AtMost rejects numbers above max. For number lists every element is checked.
func AtMost(max float64) Validator {
	return bound{limit: big.NewFloat(max)}
}

// GreaterThan rejects numbers less than or equal to min.
func GreaterThan(min float64) Validator {
	return bound{limit: big.NewFloat(min), lower: true, exclusive: true}
}

// Between accepts numbers in the closed interval [min, max].
func Between(min, max float64) Validator {
	return AllOf(AtLeast(min), AtMost(max))
}

func (b bound) Validate(v cty.Value) error {
	return eachNumber(v, func(n *big.Float) error {
		cmp := n.Cmp(b.limit)
		switch {
		case b.lower && b.exclusive && cmp <= 0:
			return fmt.Errorf("value %s must be greater than %s", formatNumber(n), formatNumber(b.limit))
		case b.lower && cmp < 0:
			return fmt.Errorf("value %s is below the lower bound %s", formatNumber(n), formatNumber(b.limit))
		case !b.lower && cmp > 0:
			return fmt.Errorf("value %s is above the upper bound %s", formatNumber(n), formatNumber(b.limit))
		}
		return nil
	})
}

func eachNumber(v cty.Value, fn func(*big.Float) error) error {
	if v.IsNull() || !v.IsKnown() {
		return nil
	}
	t := v.Type()
	switch {
	case t.Equals(cty.Number):
		return fn(v.AsBigFloat())
	case t.IsListType() && t.ElementType().Equals(cty.Number):
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			if err := fn(ev.AsBigFloat()); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("bounds apply to numbers, got %s", t.FriendlyName())
	}
}

// Integer rejects numbers with a fractional part.
func Integer() Validator {
	return Func(func(v cty.Value) error {
		return eachNumber(v, func(n *big.Float) error {
			if !n.IsInt() {
				return fmt.Errorf("value %s is not a whole number", formatNumber(n))
			}
			return nil
		})
	})
}

// OneOf accepts only values whose text form is one of allowed. Lists must
// consist of allowed values only.
func OneOf(allowed ...string) Validator {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	check := func(ev cty.Value) error {
		s := FormatValue(ev)
		if _, ok := set[s]; !ok {
			return fmt.Errorf("%q is not one of [%s]", s, strings.Join(allowed, ", "))
		}
		return nil
	}
	return Func(func(v cty.Value) error {
		if v.IsNull() {
			return nil
		}
		if v.Type().IsListType() {
			for it := v.ElementIterator(); it.Next(); {
				_, ev := it.Element()
				if err := check(ev); err != nil {
					return err
				}
			}
			return nil
		}
		return check(v)
	})
}

// Length bounds the length of a string or list. A negative max means no upper bound.
func Length(min, max int) Validator {
	return Func(func(v cty.Value) error {
		if v.IsNull() {
			return nil
		}
		var n int
		switch t := v.Type(); {
		case t.Equals(cty.String):
			n = len([]rune(v.AsString()))
		case t.IsListType():
			n = v.LengthInt()
		default:
			return fmt.Errorf("length applies to strings and lists, got %s", t.FriendlyName())
		}
		if n < min {
			return fmt.Errorf("length %d is shorter than %d", n, min)
		}
		if max >= 0 && n > max {
			return fmt.Errorf("length %d is longer than %d", n, max)
		}
		return nil
	})
}

// Pattern requires strings (or every string of a list) to match re.
func Pattern(re *regexp.Regexp) Validator {
	return Func(func(v cty.Value) error {
		if v.IsNull() {
			return nil
		}
		t := v.Type()
		switch {
		case t.Equals(cty.String):
			if !re.MatchString(v.AsString()) {
				return fmt.Errorf("%q does not match %s", v.AsString(), re)
			}
		case t.IsListType() && t.ElementType().Equals(cty.String):
			for it := v.ElementIterator(); it.Next(); {
				_, ev := it.Element()
				if !re.MatchString(ev.AsString()) {
					return fmt.Errorf("%q does not match %s", ev.AsString(), re)
				}
			}
		default:
			return fmt.Errorf("pattern applies to strings, got %s", t.FriendlyName())
		}
		return nil
	})
}
