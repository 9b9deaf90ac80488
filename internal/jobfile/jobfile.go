// Package jobfile reads HCL job files: ordered lists of algorithm
// invocations with their property values.
//
//	algorithm "CreateMatrix" {
//	  OutputWorkspace = "raw"
//	  Histograms      = 4
//	  DataY           = [1, 2, 3]
//	}
//
//	algorithm "Scale" {
//	  version         = 1
//	  InputWorkspace  = "raw"
//	  OutputWorkspace = "scaled"
//	  Factor          = 2.5
//	}
//
// The optional "version" attribute pins a version; every other attribute
// sets the property of the same name.
package jobfile

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/ChuLiYu/algorun/internal/executable"
	"github.com/ChuLiYu/algorun/internal/logging"
	"github.com/ChuLiYu/algorun/pkg/types"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

const versionAttr = "version"

// Job is a parsed job file.
type Job struct {
	Filename string
	Steps    []Step
}

// Step is one algorithm block.
type Step struct {
	Algorithm string
	Version   int                  // 0 when not pinned
	Names     []string             // property names in source order
	Values    map[string]cty.Value // property name -> value
	Range     hcl.Range
}

type fileRoot struct {
	Steps []*stepBlock `hcl:"algorithm,block"`
}

type stepBlock struct {
	Algorithm string   `hcl:"name,label"`
	Body      hcl.Body `hcl:",remain"`
}

// Load reads and parses the file at path.
func Load(path string) (*Job, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	return Parse(path, src)
}

// Parse parses HCL source. filename is used in diagnostics only.
func Parse(filename string, src []byte) (*Job, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse job file %s: %w", filename, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode job file %s: %w: %w", filename, diags, types.ErrValidation)
	}

	job := &Job{Filename: filename}
	for _, block := range root.Steps {
		step, err := decodeStep(block)
		if err != nil {
			return nil, err
		}
		job.Steps = append(job.Steps, step)
	}
	return job, nil
}

func decodeStep(block *stepBlock) (Step, error) {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return Step{}, fmt.Errorf("algorithm %q: %w", block.Algorithm, diags)
	}
	step := Step{
		Algorithm: block.Algorithm,
		Values:    make(map[string]cty.Value, len(attrs)),
		Range:     block.Body.MissingItemRange(),
	}

	ordered := make([]*hcl.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		ordered = append(ordered, attr)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Range.Start.Byte < ordered[j].Range.Start.Byte
	})

	for _, attr := range ordered {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return Step{}, fmt.Errorf("algorithm %q: %w", block.Algorithm, diags)
		}
		if attr.Name == versionAttr {
			if err := gocty.FromCtyValue(v, &step.Version); err != nil || step.Version < 0 {
				return Step{}, fmt.Errorf("%s: version must be a non-negative integer: %w", attr.Range, types.ErrValidation)
			}
			continue
		}
		step.Names = append(step.Names, attr.Name)
		step.Values[attr.Name] = v
	}
	return step, nil
}

// Apply sets the step's values on a configured executable. HCL values are
// converted to the declared property types; strings given for non-string
// properties go through the property parser, so ranges such as "1:4" work.
func (s Step) Apply(e *executable.Executable) error {
	for _, name := range s.Names {
		v := s.Values[name]
		p, err := e.Props().Lookup(name)
		if err != nil {
			return fmt.Errorf("%s: %w", s.Range, err)
		}
		if v.Type().Equals(cty.String) && !p.Type().Equals(cty.String) {
			err = e.Props().SetFromString(name, v.AsString())
		} else {
			var converted cty.Value
			converted, err = convert.Convert(v, p.Type())
			if err != nil {
				return fmt.Errorf("%s: property %s wants %s: %v: %w",
					s.Range, p.Name(), p.TypeName(), err, types.ErrTypeMismatch)
			}
			err = e.Props().Set(name, converted)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", s.Range, err)
		}
	}
	return nil
}

// Run executes the steps in order and stops at the first failure. pins
// supplies versions for steps that do not set one. The records of the
// executed steps are returned, the failed one included.
func (j *Job) Run(ctx context.Context, reg *executable.Registry, pins map[string]int) ([]types.RunRecord, error) {
	log := logging.FromContext(ctx)
	var records []types.RunRecord
	for i, step := range j.Steps {
		version := step.Version
		if version == 0 {
			version = pins[step.Algorithm]
		}
		e, err := reg.CreateVersion(step.Algorithm, version)
		if err != nil {
			return records, fmt.Errorf("step %d: %w", i+1, err)
		}
		if err := e.Configure(); err != nil {
			return records, fmt.Errorf("step %d: %w", i+1, err)
		}
		if err := step.Apply(e); err != nil {
			return records, fmt.Errorf("step %d (%s): %w", i+1, step.Algorithm, err)
		}
		log.Info("running job step", "step", i+1, "algorithm", step.Algorithm, "version", e.Version())
		err = e.Execute(ctx)
		records = append(records, e.LastRun())
		if err != nil {
			return records, fmt.Errorf("step %d (%s): %w", i+1, step.Algorithm, err)
		}
	}
	return records, nil
}
