package property

import (
	"errors"
	"testing"

	"github.com/ChuLiYu/algorun/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestDeclareSetGet(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("Prop", "", types.DirInput))

	isDefault, err := c.IsDefault("Prop")
	require.NoError(t, err)
	assert.True(t, isDefault)

	require.NoError(t, c.Set("Prop", "Val"))

	got, err := c.GetString("Prop")
	require.NoError(t, err)
	assert.Equal(t, "Val", got)

	isDefault, err = c.IsDefault("Prop")
	require.NoError(t, err)
	assert.False(t, isDefault)
}

func TestDeclareRejectsCollisions(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("Workspace", "", types.DirInput))

	for _, name := range []string{"Workspace", "workspace", "WORKSPACE", " workspace "} {
		err := c.Declare(name, "", types.DirOutput)
		assert.ErrorIs(t, err, types.ErrDuplicate, "name %q", name)
	}
	assert.Equal(t, 1, c.Len())
}

func TestDeclareRejectsEmptyName(t *testing.T) {
	c := NewContainer()
	assert.ErrorIs(t, c.Declare("", 1, types.DirInput), types.ErrValidation)
	assert.ErrorIs(t, c.Declare("   ", 1, types.DirInput), types.ErrValidation)
}

func TestDeclareAfterFreeze(t *testing.T) {
	c := NewContainer()
	c.Freeze()
	assert.ErrorIs(t, c.Declare("Late", 1, types.DirInput), types.ErrInvalidState)
}

func TestDeclareNilDefaultNeedsType(t *testing.T) {
	c := NewContainer()
	assert.ErrorIs(t, c.Declare("X", nil, types.DirInput), types.ErrTypeMismatch)

	require.NoError(t, c.Declare("Spectra", nil, types.DirInput, WithType(Numbers)))
	got, err := c.GetFloats("Spectra")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("OutputWorkspace", "out", types.DirOutput))

	require.NoError(t, c.Set("outputworkspace", "renamed"))
	got, err := c.GetString("OUTPUTWORKSPACE")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got)

	p, err := c.Lookup("outputWorkspace")
	require.NoError(t, err)
	assert.Equal(t, "OutputWorkspace", p.Name())
}

func TestGetUndeclared(t *testing.T) {
	c := NewContainer()
	_, err := c.Get("Missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, c.Set("Missing", 1), types.ErrNotFound)
	assert.ErrorIs(t, c.SetFromString("Missing", "1"), types.ErrNotFound)
	_, err = c.IsDefault("Missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSetTypeMismatch(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("Factor", 1.0, types.DirInput))
	require.NoError(t, c.Declare("Title", "", types.DirInput))
	require.NoError(t, c.Declare("Flag", false, types.DirInput))

	tests := []struct {
		name  string
		prop  string
		value any
	}{
		{"string into number", "Factor", "2"},
		{"bool into number", "Factor", true},
		{"number into string", "Title", 3},
		{"cty number into string", "Title", cty.NumberIntVal(3)},
		{"list into bool", "Flag", []string{"a"}},
		{"nil", "Title", nil},
		{"unsupported go type", "Title", struct{ A chan int }{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Set(tt.prop, tt.value)
			assert.ErrorIs(t, err, types.ErrTypeMismatch)
		})
	}

	isDefault, err := c.IsDefault("Factor")
	require.NoError(t, err)
	assert.True(t, isDefault, "failed sets must not mark the property as set")
}

func TestSetAcceptsNumericGoKinds(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("N", 0, types.DirInput))

	for _, v := range []any{int(3), int64(4), float32(1.5), 2.25, uint8(7)} {
		require.NoError(t, c.Set("N", v), "%T", v)
	}
	got, err := c.GetInt("N")
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestSetRunsValidator(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("Factor", 1.0, types.DirInput, WithValidator(AtLeast(0))))

	err := c.Set("Factor", -2.0)
	require.ErrorIs(t, err, types.ErrValidation)

	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Reason("Factor"), "below the lower bound")

	got, err := c.GetFloat("Factor")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got, "rejected value must not be stored")
}

func TestSetFromString(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("Title", "", types.DirInput))
	require.NoError(t, c.Declare("Factor", 1.0, types.DirInput))
	require.NoError(t, c.Declare("Flag", false, types.DirInput))
	require.NoError(t, c.Declare("Names", []string{}, types.DirInput))
	require.NoError(t, c.Declare("Indices", []float64{}, types.DirInput))

	require.NoError(t, c.SetFromString("Title", " spaced "))
	require.NoError(t, c.SetFromString("Factor", "2.5"))
	require.NoError(t, c.SetFromString("Flag", "yes"))
	require.NoError(t, c.SetFromString("Names", "a, b ,c"))
	require.NoError(t, c.SetFromString("Indices", "1,4:6,9"))

	title, _ := c.GetString("Title")
	assert.Equal(t, " spaced ", title)
	factor, _ := c.GetFloat("Factor")
	assert.Equal(t, 2.5, factor)
	flag, _ := c.GetBool("Flag")
	assert.True(t, flag)
	names, _ := c.GetStrings("Names")
	assert.Equal(t, []string{"a", "b", "c"}, names)
	indices, _ := c.GetFloats("Indices")
	assert.Equal(t, []float64{1, 4, 5, 6, 9}, indices)

	assert.ErrorIs(t, c.SetFromString("Factor", "two"), types.ErrTypeMismatch)
	assert.ErrorIs(t, c.SetFromString("Flag", "maybe"), types.ErrTypeMismatch)
	assert.ErrorIs(t, c.SetFromString("Indices", "1,x"), types.ErrTypeMismatch)
}

func TestSetFromStringRejectsHugeRanges(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("Indices", []float64{}, types.DirInput))

	for _, text := range []string{
		"0:9223372036854775807",
		"-9223372036854775808:9223372036854775807",
		"9223372036854775807:-9223372036854775808",
		"0:1048576",
	} {
		assert.NotPanics(t, func() {
			assert.ErrorIs(t, c.SetFromString("Indices", text), types.ErrValidation, text)
		})
	}

	require.NoError(t, c.SetFromString("Indices", "5:3"))
	got, _ := c.GetFloats("Indices")
	assert.Equal(t, []float64{5, 4, 3}, got)
}

func TestSetFromStringRunsValidator(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("Mode", "fast", types.DirInput, WithValidator(OneOf("fast", "slow"))))
	assert.ErrorIs(t, c.SetFromString("Mode", "medium"), types.ErrValidation)
	require.NoError(t, c.SetFromString("Mode", "slow"))
}

func TestGetTypedAccessorMismatch(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("Factor", 1.5, types.DirInput))

	_, err := c.GetString("Factor")
	assert.ErrorIs(t, err, types.ErrTypeMismatch)
	_, err = c.GetInt("Factor")
	assert.ErrorIs(t, err, types.ErrTypeMismatch, "non whole number")
}

func TestValidateAll(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("Input", "", types.DirInput, WithValidator(Mandatory())))
	require.NoError(t, c.Declare("Count", 5, types.DirInput, WithValidator(Between(1, 10))))
	require.NoError(t, c.Declare("Out", "", types.DirOutput, AsArtifact("")))
	require.NoError(t, c.Declare("Extra", "", types.DirInput, AsArtifact(""), Optional()))

	problems := c.ValidateAll()
	assert.Len(t, problems, 2)
	assert.Contains(t, problems, "Input")
	assert.Contains(t, problems, "Out")

	require.NoError(t, c.Set("Input", "x"))
	require.NoError(t, c.Set("Out", "ws"))
	assert.Empty(t, c.ValidateAll())
}

func TestResetAndSnapshot(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Declare("A", 1, types.DirInput))
	require.NoError(t, c.Declare("B", []string{"x", "y"}, types.DirInput))
	require.NoError(t, c.Set("A", 2))

	assert.Equal(t, map[string]string{"A": "2", "B": "x,y"}, c.Snapshot())

	require.NoError(t, c.Reset("A"))
	isDefault, _ := c.IsDefault("A")
	assert.True(t, isDefault)
	v, _ := c.ValueString("A")
	assert.Equal(t, "1", v)
}

func TestPropertiesKeepDeclarationOrder(t *testing.T) {
	c := NewContainer()
	for _, n := range []string{"Zeta", "alpha", "Mid"} {
		require.NoError(t, c.Declare(n, "", types.DirInput))
	}
	var names []string
	for _, p := range c.Properties() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"Zeta", "alpha", "Mid"}, names)
}

func TestArtifactPropertyMustBeString(t *testing.T) {
	c := NewContainer()
	assert.ErrorIs(t, c.Declare("InputWorkspace", 1, types.DirInput, AsArtifact("Matrix")), types.ErrTypeMismatch)
}
