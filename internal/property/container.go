package property

import (
	"fmt"
	"strings"

	"github.com/ChuLiYu/algorun/pkg/types"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Container is an ordered, case-insensitively unique collection of properties.
//
// A Container is owned by a single executable and is not safe for concurrent
// use. Its structure is frozen once execution begins; values stay settable.
type Container struct {
	props  []*Property
	index  map[string]int // normalized name -> position in props
	frozen bool
}

// NewContainer returns an empty container.
func NewContainer() *Container {
	return &Container{index: make(map[string]int)}
}

// Declare adds a property. The declared type is implied from def unless
// WithType is given.
func (c *Container) Declare(name string, def any, dir types.Direction, opts ...Option) error {
	if c.frozen {
		return fmt.Errorf("property: declare %q after execution started: %w", name, types.ErrInvalidState)
	}
	key := normalizeName(name)
	if key == "" {
		return fmt.Errorf("property: empty name: %w", types.ErrValidation)
	}
	if i, exists := c.index[key]; exists {
		return fmt.Errorf("property: %q collides with %q: %w", name, c.props[i].name, types.ErrDuplicate)
	}

	p, err := newProperty(strings.TrimSpace(name), def, dir, opts)
	if err != nil {
		return err
	}
	c.index[key] = len(c.props)
	c.props = append(c.props, p)
	return nil
}

// Freeze makes the container's structure immutable.
func (c *Container) Freeze() { c.frozen = true }

// Frozen reports whether Freeze was called.
func (c *Container) Frozen() bool { return c.frozen }

// Lookup returns the property with the given name.
func (c *Container) Lookup(name string) (*Property, error) {
	i, ok := c.index[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("property: %q: %w", name, types.ErrNotFound)
	}
	return c.props[i], nil
}

// Has reports whether a property is declared.
func (c *Container) Has(name string) bool {
	_, ok := c.index[normalizeName(name)]
	return ok
}

// Set assigns a native Go value or a cty.Value. The value's type must equal
// the declared type.
func (c *Container) Set(name string, value any) error {
	p, err := c.Lookup(name)
	if err != nil {
		return err
	}
	v, err := toValue(value, p.typ)
	if err != nil {
		return fmt.Errorf("property: %q: %w", p.name, err)
	}
	return p.assign(v)
}

// SetFromString parses text into the declared type and assigns it.
func (c *Container) SetFromString(name, text string) error {
	p, err := c.Lookup(name)
	if err != nil {
		return err
	}
	v, err := ParseValue(text, p.typ)
	if err != nil {
		return fmt.Errorf("property: %q: %w", p.name, err)
	}
	return p.assign(v)
}

// Get returns the current value, or the default if it was never set.
func (c *Container) Get(name string) (cty.Value, error) {
	p, err := c.Lookup(name)
	if err != nil {
		return cty.NilVal, err
	}
	return p.value, nil
}

// ValueString returns the current value rendered as text.
func (c *Container) ValueString(name string) (string, error) {
	p, err := c.Lookup(name)
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

// IsDefault reports whether the property was never explicitly set.
func (c *Container) IsDefault(name string) (bool, error) {
	p, err := c.Lookup(name)
	if err != nil {
		return false, err
	}
	return p.IsDefault(), nil
}

// Reset restores the default value.
func (c *Container) Reset(name string) error {
	p, err := c.Lookup(name)
	if err != nil {
		return err
	}
	p.reset()
	return nil
}

// ValidateAll runs every validator and returns rejected properties mapped to
// their reasons. The map is empty when everything is valid.
func (c *Container) ValidateAll() map[string]string {
	problems := make(map[string]string)
	for _, p := range c.props {
		if msg := p.Validate(); msg != "" {
			problems[p.name] = msg
		}
	}
	return problems
}

// Properties returns the properties in declaration order.
func (c *Container) Properties() []*Property {
	out := make([]*Property, len(c.props))
	copy(out, c.props)
	return out
}

// Len returns the number of declared properties.
func (c *Container) Len() int { return len(c.props) }

// Snapshot renders every property value as text, keyed by declared name.
func (c *Container) Snapshot() map[string]string {
	out := make(map[string]string, len(c.props))
	for _, p := range c.props {
		out[p.name] = p.String()
	}
	return out
}

func (c *Container) GetString(name string) (string, error) {
	var s string
	err := c.decode(name, cty.String, &s)
	return s, err
}

func (c *Container) GetFloat(name string) (float64, error) {
	var f float64
	err := c.decode(name, cty.Number, &f)
	return f, err
}

// GetInt fails when the number is not whole.
func (c *Container) GetInt(name string) (int, error) {
	var i int
	err := c.decode(name, cty.Number, &i)
	return i, err
}

func (c *Container) GetBool(name string) (bool, error) {
	var b bool
	err := c.decode(name, cty.Bool, &b)
	return b, err
}

func (c *Container) GetStrings(name string) ([]string, error) {
	var s []string
	err := c.decode(name, Strings, &s)
	return s, err
}

func (c *Container) GetFloats(name string) ([]float64, error) {
	var f []float64
	err := c.decode(name, Numbers, &f)
	return f, err
}

func (c *Container) decode(name string, want cty.Type, target any) error {
	p, err := c.Lookup(name)
	if err != nil {
		return err
	}
	if !p.typ.Equals(want) {
		return fmt.Errorf("property: %q is %s, not %s: %w", p.name, p.typ.FriendlyName(), want.FriendlyName(), types.ErrTypeMismatch)
	}
	if err := gocty.FromCtyValue(p.value, target); err != nil {
		return fmt.Errorf("property: %q: %v: %w", p.name, err, types.ErrTypeMismatch)
	}
	return nil
}
