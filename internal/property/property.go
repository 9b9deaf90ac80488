// Package property implements named, typed, validated configuration values and
// the ordered container executables use as their configuration surface.
//
// Values are held as cty.Value so a property can be set from native Go values,
// from values decoded out of job files, or from text, while its declared type
// never changes after declaration.
package property

import (
	"fmt"
	"strings"

	"github.com/ChuLiYu/algorun/pkg/types"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Supported property types.
var (
	String  = cty.String
	Number  = cty.Number
	Bool    = cty.Bool
	Strings = cty.List(cty.String)
	Numbers = cty.List(cty.Number)
)

// Property is a single named configuration value.
type Property struct {
	name      string
	typ       cty.Type
	dir       types.Direction
	value     cty.Value
	def       cty.Value
	validator Validator
	doc       string
	explicit  bool

	artifact     bool
	artifactKind string
	optional     bool
}

// Option customizes a property at declaration time.
type Option func(*Property)

// WithValidator attaches a validator. Several validators are combined with AllOf.
func WithValidator(vs ...Validator) Option {
	return func(p *Property) {
		if len(vs) == 0 {
			return
		}
		if p.validator != nil {
			vs = append([]Validator{p.validator}, vs...)
		}
		if len(vs) == 1 {
			p.validator = vs[0]
			return
		}
		p.validator = AllOf(vs...)
	}
}

// WithDoc sets the documentation string.
func WithDoc(doc string) Option {
	return func(p *Property) {
		p.doc = doc
	}
}

// WithType fixes the declared type explicitly. Required when the default is nil.
func WithType(t cty.Type) Option {
	return func(p *Property) {
		p.typ = t
	}
}

// AsArtifact marks a string property as naming an artifact of the given kind in
// the artifact registry. An empty kind accepts any artifact.
func AsArtifact(kind string) Option {
	return func(p *Property) {
		p.artifact = true
		p.artifactKind = kind
	}
}

// Optional marks an artifact property as allowed to stay empty.
func Optional() Option {
	return func(p *Property) {
		p.optional = true
	}
}

func (p *Property) Name() string               { return p.name }
func (p *Property) Type() cty.Type             { return p.typ }
func (p *Property) Direction() types.Direction { return p.dir }
func (p *Property) Value() cty.Value           { return p.value }
func (p *Property) Default() cty.Value         { return p.def }
func (p *Property) Doc() string                { return p.doc }
func (p *Property) Validator() Validator       { return p.validator }

// IsDefault reports whether the value was never explicitly set.
func (p *Property) IsDefault() bool { return !p.explicit }

// IsArtifact reports whether the property names an artifact.
func (p *Property) IsArtifact() bool { return p.artifact }

// ArtifactKind is the required artifact kind, empty for any.
func (p *Property) ArtifactKind() string { return p.artifactKind }

// IsOptional reports whether an artifact property may be left empty.
func (p *Property) IsOptional() bool { return p.optional }

// TypeName is the friendly name of the declared type.
func (p *Property) TypeName() string { return p.typ.FriendlyName() }

// String renders the current value as text in the same syntax SetFromString accepts.
func (p *Property) String() string { return FormatValue(p.value) }

// Validate runs the attached validator against the current value and returns
// the rejection reason, or "" when the value is accepted.
func (p *Property) Validate() string {
	if p.artifact && !p.optional && p.value.AsString() == "" {
		return "an artifact name is required"
	}
	if p.validator == nil {
		return ""
	}
	if err := p.validator.Validate(p.value); err != nil {
		return err.Error()
	}
	return ""
}

func (p *Property) assign(v cty.Value) error {
	if p.validator != nil {
		if err := p.validator.Validate(v); err != nil {
			return types.NewValidationError(p.name, err.Error())
		}
	}
	p.value = v
	p.explicit = true
	return nil
}

func (p *Property) reset() {
	p.value = p.def
	p.explicit = false
}

func newProperty(name string, def any, dir types.Direction, opts []Option) (*Property, error) {
	p := &Property{name: name, dir: dir, typ: cty.NilType}
	for _, opt := range opts {
		opt(p)
	}

	if p.typ == cty.NilType {
		if def == nil {
			return nil, fmt.Errorf("property: %q: nil default needs an explicit type: %w", name, types.ErrTypeMismatch)
		}
		implied, err := impliedType(def)
		if err != nil {
			return nil, fmt.Errorf("property: %q: %w", name, err)
		}
		p.typ = implied
	}
	if !supported(p.typ) {
		return nil, fmt.Errorf("property: %q: unsupported type %s: %w", name, p.typ.FriendlyName(), types.ErrTypeMismatch)
	}
	if p.artifact && !p.typ.Equals(cty.String) {
		return nil, fmt.Errorf("property: %q: artifact properties hold names and must be strings: %w", name, types.ErrTypeMismatch)
	}

	if def == nil {
		p.def = zeroValue(p.typ)
	} else {
		v, err := toValue(def, p.typ)
		if err != nil {
			return nil, fmt.Errorf("property: %q default: %w", name, err)
		}
		p.def = v
	}
	p.value = p.def
	return p, nil
}

func supported(t cty.Type) bool {
	for _, s := range []cty.Type{String, Number, Bool, Strings, Numbers} {
		if t.Equals(s) {
			return true
		}
	}
	return false
}

func zeroValue(t cty.Type) cty.Value {
	switch {
	case t.Equals(cty.String):
		return cty.StringVal("")
	case t.Equals(cty.Number):
		return cty.Zero
	case t.Equals(cty.Bool):
		return cty.False
	default:
		return cty.ListValEmpty(t.ElementType())
	}
}

func impliedType(v any) (cty.Type, error) {
	if cv, ok := v.(cty.Value); ok {
		return cv.Type(), nil
	}
	t, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilType, fmt.Errorf("unsupported Go type %T: %w", v, types.ErrTypeMismatch)
	}
	return t, nil
}

// toValue converts v to a value of type want without any coercion between kinds.
func toValue(v any, want cty.Type) (cty.Value, error) {
	if v == nil {
		return cty.NilVal, fmt.Errorf("nil value for %s: %w", want.FriendlyName(), types.ErrTypeMismatch)
	}
	if cv, ok := v.(cty.Value); ok {
		if cv.IsNull() || !cv.IsKnown() {
			return cty.NilVal, fmt.Errorf("null or unknown value for %s: %w", want.FriendlyName(), types.ErrTypeMismatch)
		}
		if !cv.Type().Equals(want) {
			return cty.NilVal, fmt.Errorf("got %s, want %s: %w", cv.Type().FriendlyName(), want.FriendlyName(), types.ErrTypeMismatch)
		}
		return cv, nil
	}

	got, err := impliedType(v)
	if err != nil {
		return cty.NilVal, err
	}
	if !got.Equals(want) {
		return cty.NilVal, fmt.Errorf("got %s (%T), want %s: %w", got.FriendlyName(), v, want.FriendlyName(), types.ErrTypeMismatch)
	}
	cv, err := gocty.ToCtyValue(v, want)
	if err != nil {
		return cty.NilVal, fmt.Errorf("%v: %w", err, types.ErrTypeMismatch)
	}
	return cv, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
