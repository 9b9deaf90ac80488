package executable

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/algorun/internal/property"
	"github.com/ChuLiYu/algorun/pkg/types"
)

// Body is an algorithm implementation. Init declares the properties; Exec
// does the work once the properties are set and validated.
type Body interface {
	Name() string
	Version() int
	Category() string
	Summary() string
	Init(d *Declarer)
	Exec(ctx context.Context, e *Executable) error
}

// InputValidator is implemented by bodies with checks spanning several
// properties. It returns property names mapped to rejection reasons.
type InputValidator interface {
	ValidateInputs(e *Executable) map[string]string
}

// Declarer is handed to Body.Init. The first declaration error is kept and
// returned by Configure; later declarations are skipped.
type Declarer struct {
	props *property.Container
	err   error
}

// Declare adds a plain property.
func (d *Declarer) Declare(name string, def any, dir types.Direction, opts ...property.Option) {
	if d.err != nil {
		return
	}
	d.err = d.props.Declare(name, def, dir, opts...)
}

// DeclareArtifact adds a property naming an artifact of the given kind. An
// empty kind accepts any kind. Input artifacts are looked up in the artifact
// registry before the body runs; output artifacts are published after it
// succeeds.
func (d *Declarer) DeclareArtifact(name string, dir types.Direction, kind string, opts ...property.Option) {
	if d.err != nil {
		return
	}
	if dir == types.DirUnset {
		d.err = fmt.Errorf("executable: artifact property %q needs a direction: %w", name, types.ErrValidation)
		return
	}
	opts = append([]property.Option{property.AsArtifact(kind)}, opts...)
	d.err = d.props.Declare(name, "", dir, opts...)
}

// Err returns the first declaration error.
func (d *Declarer) Err() error { return d.err }
