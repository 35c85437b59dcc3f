// SPDX-License-Identifier: AGPL-3.0-only

package adaptivebulkhead

import (
	"bytes"
	"flag"
	"maps"
	"slices"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Overrides describes the configuration of several named bulkheads: a defaults block, and per-bulkhead overrides
// that only need to mention the fields that differ from the defaults.
type Overrides struct {
	Defaults Settings `yaml:"defaults"`

	// Bulkheads are kept undecoded, so that they apply on top of the defaults as they are when resolved, including
	// values set by CLI flags after the file has been loaded.
	Bulkheads map[string]yaml.Node `yaml:"bulkheads"`
}

func (o *Overrides) RegisterFlags(f *flag.FlagSet) {
	o.Defaults.RegisterFlags(f)
}

// Resolve builds the default Config and the Config of every bulkhead. All invalid bulkheads are reported.
func (o *Overrides) Resolve() (*Resolved, error) {
	def, err := o.Defaults.Config()
	if err != nil {
		return nil, errors.Wrap(err, "defaults")
	}

	resolved := &Resolved{
		defaults:  def,
		bulkheads: make(map[string]Config, len(o.Bulkheads)),
	}

	var errs error
	for _, name := range slices.Sorted(maps.Keys(o.Bulkheads)) {
		node := o.Bulkheads[name]
		cfg, err := o.resolveBulkhead(def, &node)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "bulkhead %q", name))
			continue
		}
		resolved.bulkheads[name] = cfg
	}
	if errs != nil {
		return nil, errs
	}
	return resolved, nil
}

func (o *Overrides) resolveBulkhead(def Config, node *yaml.Node) (Config, error) {
	s := o.Defaults
	if err := decodeStrict(node, &s); err != nil {
		return Config{}, err
	}
	return s.ApplyTo(From(def)).Build()
}

// decodeStrict decodes node into v, rejecting fields v doesn't have.
func decodeStrict(node *yaml.Node, v any) error {
	if node.Kind == 0 || node.ShortTag() == "!!null" {
		return nil
	}
	buf, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// Resolved holds validated configs by bulkhead name.
type Resolved struct {
	defaults  Config
	bulkheads map[string]Config
}

func (r *Resolved) Default() Config {
	return r.defaults
}

// For returns the Config of the named bulkhead, or the default Config if the bulkhead has no overrides.
func (r *Resolved) For(name string) Config {
	if cfg, ok := r.bulkheads[name]; ok {
		return cfg
	}
	return r.defaults
}

// Names returns the sorted names of the bulkheads with overrides.
func (r *Resolved) Names() []string {
	return slices.Sorted(maps.Keys(r.bulkheads))
}
