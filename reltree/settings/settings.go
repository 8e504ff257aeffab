// Package settings reads the two configuration formats of a learning run:
// the section-based settings file that declares relations, aggregators,
// atom tests and tree parameters, and the YAML run file that ties
// settings, fact files, model type and seeds together.
package settings

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/aggregate"
	"github.com/wbrown/janus-reltree/reltree/feature"
	"github.com/wbrown/janus-reltree/reltree/relation"
	"github.com/wbrown/janus-reltree/reltree/tree"
)

// ErrMalformedSettings is returned for settings that cannot be used.
var ErrMalformedSettings = errors.New("malformed settings")

// Section names.
const (
	SectionRelations      = "Relations"
	SectionAggregates     = "Aggregates"
	SectionAtomTests      = "AtomTests"
	SectionTreeParameters = "TreeParameters"
)

// Tree parameter keys.
const (
	ParamNumNodes         = "numNodes"
	ParamMinInstancesNode = "minInstancesNode"
	ParamMaxDepth         = "maxDepth"
	ParamMaxTestLength    = "maxTestLength"
)

var (
	sectionPattern   = regexp.MustCompile(`^\[([A-Za-z]+)\]$`)
	parameterPattern = regexp.MustCompile(`^([A-Za-z]+) *= *(.+)$`)
)

// Relation is a declared relation schema.
type Relation struct {
	Name  string
	Types []reltree.Type
}

// AtomTest allows atoms of a relation with a mode per argument.
type AtomTest struct {
	Relation string
	Modes    []feature.Mode
}

func (a AtomTest) String() string {
	modes := make([]string, len(a.Modes))
	for i, m := range a.Modes {
		modes[i] = m.String()
	}
	return a.Relation + "(" + strings.Join(modes, ", ") + ")"
}

// TreeParameters are the induction limits of the settings file. Negative
// limits are unlimited.
type TreeParameters struct {
	MaxNodes      int
	MinLeafWeight float64
	MaxDepth      int
	MaxAtomTests  int
}

// DefaultTreeParameters applies to keys a file leaves out.
func DefaultTreeParameters() TreeParameters {
	return TreeParameters{MaxNodes: -1, MinLeafWeight: 1, MaxDepth: -1, MaxAtomTests: 1}
}

// Settings is a parsed settings file. The first relation is the target
// relation; its last argument holds the label.
type Settings struct {
	Relations   []Relation
	Aggregators []string // empty allows every aggregator
	AtomTests   []AtomTest
	Tree        TreeParameters
	// Warnings lists ignored duplicates and overridden parameters.
	Warnings []string
}

// ParseFile parses the settings file at path.
func ParseFile(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a settings file. Text after // is ignored, as are blank
// lines. Lines before the first section header are an error.
func Parse(r io.Reader) (*Settings, error) {
	s := &Settings{Tree: DefaultTreeParameters()}
	seen := make(map[string]bool)
	section := ""
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := relation.StripComment(scanner.Text())
		if line == "" {
			continue
		}
		if m := sectionPattern.FindStringSubmatch(line); m != nil {
			section = m[1]
			switch section {
			case SectionRelations, SectionAggregates, SectionAtomTests, SectionTreeParameters:
			default:
				return nil, fmt.Errorf("%w: line %d: unknown section %q, allowed: %s", ErrMalformedSettings, lineNo, section,
					strings.Join([]string{SectionRelations, SectionAggregates, SectionAtomTests, SectionTreeParameters}, ", "))
			}
			continue
		}
		var err error
		switch section {
		case SectionRelations:
			err = s.parseRelation(line)
		case SectionAggregates:
			err = s.parseAggregate(line)
		case SectionAtomTests:
			err = s.parseAtomTest(line)
		case SectionTreeParameters:
			err = s.parseParameter(line, seen)
		default:
			err = fmt.Errorf("%w: %q outside a section", ErrMalformedSettings, line)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) warn(format string, args ...interface{}) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

func parseAtom(line string) (string, []string, error) {
	name, args, err := relation.ParseFact(line)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedSettings, err)
	}
	return name, args, nil
}

func (s *Settings) parseRelation(line string) error {
	name, args, err := parseAtom(line)
	if err != nil {
		return err
	}
	types := make([]reltree.Type, len(args))
	for i, a := range args {
		types[i] = reltree.Type(a)
		if err := types[i].Validate(); err != nil {
			return fmt.Errorf("%w: relation %s: %v", ErrMalformedSettings, name, err)
		}
	}
	for _, r := range s.Relations {
		if r.Name == name {
			s.warn("relation %s was listed more than once, ignoring duplicates", name)
			return nil
		}
	}
	s.Relations = append(s.Relations, Relation{Name: name, Types: types})
	return nil
}

func (s *Settings) parseAggregate(line string) error {
	if _, err := aggregate.Parse(line); err != nil {
		return fmt.Errorf("%w: %v, allowed: %s", ErrMalformedSettings, err, strings.Join(aggregate.Names(), ", "))
	}
	for _, a := range s.Aggregators {
		if a == line {
			s.warn("aggregate %s was listed more than once, ignoring duplicates", line)
			return nil
		}
	}
	s.Aggregators = append(s.Aggregators, line)
	return nil
}

func (s *Settings) parseAtomTest(line string) error {
	name, args, err := parseAtom(line)
	if err != nil {
		return err
	}
	test := AtomTest{Relation: name, Modes: make([]feature.Mode, len(args))}
	for i, a := range args {
		if test.Modes[i], err = feature.ParseMode(a); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedSettings, err)
		}
	}
	for _, t := range s.AtomTests {
		if t.String() == test.String() {
			s.warn("test %s was listed more than once, ignoring duplicates", test)
			return nil
		}
	}
	s.AtomTests = append(s.AtomTests, test)
	return nil
}

func (s *Settings) parseParameter(line string, seen map[string]bool) error {
	m := parameterPattern.FindStringSubmatch(line)
	if m == nil {
		return fmt.Errorf("%w: %q, use parameter = value", ErrMalformedSettings, line)
	}
	key, raw := m[1], strings.TrimSpace(m[2])
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%w: %s = %q is not a number", ErrMalformedSettings, key, raw)
	}
	limit := -1
	if !math.IsInf(value, 1) {
		limit = int(value)
	}
	switch key {
	case ParamNumNodes:
		s.Tree.MaxNodes = limit
	case ParamMaxDepth:
		s.Tree.MaxDepth = limit
	case ParamMinInstancesNode:
		s.Tree.MinLeafWeight = value
	case ParamMaxTestLength:
		if limit < 1 {
			return fmt.Errorf("%w: %s must be a positive integer, got %s", ErrMalformedSettings, key, raw)
		}
		s.Tree.MaxAtomTests = limit
	default:
		return fmt.Errorf("%w: unknown parameter %s, allowed: %s", ErrMalformedSettings, key,
			strings.Join([]string{ParamNumNodes, ParamMinInstancesNode, ParamMaxDepth, ParamMaxTestLength}, ", "))
	}
	if seen[key] {
		s.warn("the value for %s is already defined and is overridden", key)
	}
	seen[key] = true
	return nil
}

// Validate checks that a target relation is declared, that only its last
// argument is a constant type, and that atom tests name declared
// relations with matching arity.
func (s *Settings) Validate() error {
	if len(s.Relations) == 0 {
		return fmt.Errorf("%w: target relation unknown, no relation declared", ErrMalformedSettings)
	}
	target := s.Relations[0]
	for i, t := range target.Types {
		last := i == len(target.Types)-1
		if last != t.IsConstant() {
			must := "not "
			if last {
				must = ""
			}
			return fmt.Errorf("%w: type %d/%d of target relation %s must %sbe a constant type, but is %s",
				ErrMalformedSettings, i+1, len(target.Types), target.Name, must, t)
		}
	}
	for _, test := range s.AtomTests {
		r, ok := s.relation(test.Relation)
		if !ok {
			return fmt.Errorf("%w: atom test %s: %w", ErrMalformedSettings, test, relation.ErrUnknownRelation)
		}
		if len(r.Types) != len(test.Modes) {
			return fmt.Errorf("%w: arity of %s differs in relation %v and atom test %s",
				ErrMalformedSettings, r.Name, r.Types, test)
		}
	}
	return nil
}

func (s *Settings) relation(name string) (Relation, bool) {
	for _, r := range s.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Target returns the name of the target relation.
func (s *Settings) Target() string { return s.Relations[0].Name }

// Declare registers every relation in store.
func (s *Settings) Declare(store *relation.Store) error {
	for _, r := range s.Relations {
		if _, err := store.Declare(r.Name, r.Types); err != nil {
			return err
		}
	}
	return nil
}

// Specs resolves the atom tests against store. No atom tests yields nil,
// which lets the builder derive them.
func (s *Settings) Specs(store *relation.Store) ([]feature.Spec, error) {
	var out []feature.Spec
	for _, t := range s.AtomTests {
		r, ok := store.Relation(t.Relation)
		if !ok {
			return nil, fmt.Errorf("%w: %s", relation.ErrUnknownRelation, t.Relation)
		}
		sp, err := feature.NewSpec(r, t.Modes...)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, nil
}

// Apply copies the settings into opts.
func (s *Settings) Apply(opts *tree.Options, store *relation.Store) error {
	specs, err := s.Specs(store)
	if err != nil {
		return err
	}
	opts.Specs = specs
	if len(s.Aggregators) > 0 {
		opts.Aggregators = append([]string(nil), s.Aggregators...)
	}
	opts.MaxNodes = s.Tree.MaxNodes
	opts.MaxDepth = s.Tree.MaxDepth
	opts.MinLeafWeight = s.Tree.MinLeafWeight
	opts.MaxAtomTests = s.Tree.MaxAtomTests
	if opts.MaxChainLength < opts.MaxAtomTests {
		opts.MaxChainLength = opts.MaxAtomTests
	}
	return nil
}
