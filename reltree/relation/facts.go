package relation

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/wbrown/janus-reltree/reltree"
)

// CommentPrefix starts a trailing comment in fact and settings files.
const CommentPrefix = "//"

// StripComment removes a trailing comment and surrounding whitespace.
func StripComment(line string) string {
	if i := strings.Index(line, CommentPrefix); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// ParseFact splits a line of the form `name(v1, v2, ...)` into the relation
// name and raw argument strings. Blank and comment-only lines return an
// empty name and no error.
func ParseFact(line string) (string, []string, error) {
	line = StripComment(line)
	if line == "" {
		return "", nil, nil
	}
	open := strings.IndexByte(line, '(')
	if open <= 0 || !strings.HasSuffix(line, ")") {
		return "", nil, fmt.Errorf("%w: %q", ErrMalformedFact, line)
	}
	name := strings.TrimSpace(line[:open])
	if !validName(name) {
		return "", nil, fmt.Errorf("%w: invalid relation name %q", ErrMalformedFact, name)
	}
	body := line[open+1 : len(line)-1]
	if !validArguments(body) {
		return "", nil, fmt.Errorf("%w: invalid characters in %q", ErrMalformedFact, line)
	}
	args, err := SplitArguments(body)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v in %q", ErrMalformedFact, err, line)
	}
	return name, args, nil
}

// SplitArguments splits on top-level commas, keeping bracketed vectors and
// quoted strings intact.
func SplitArguments(body string) ([]string, error) {
	var (
		args  []string
		depth int
		quote rune
		start int
	)
	for i, c := range body {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced ']'")
			}
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(body[start:i]))
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced '['")
	}
	last := strings.TrimSpace(body[start:])
	if last != "" || len(args) > 0 {
		args = append(args, last)
	}
	for _, a := range args {
		if a == "" {
			return nil, fmt.Errorf("empty argument")
		}
	}
	return args, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// validArguments accepts the fact-file alphabet: letters, digits and
// - . , + _ [ ] space, plus quotes.
func validArguments(body string) bool {
	for _, c := range body {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case strings.ContainsRune("-.,+ _[]\"'", c):
		default:
			return false
		}
	}
	return true
}

// LoadFacts reads one fact per line into the store. Facts of declared
// relations are parsed against the declared types; facts of undeclared
// relations declare the relation with types inferred from the first fact.
// It returns the number of new tuples.
func LoadFacts(r io.Reader, s *Store) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	added := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		name, args, err := ParseFact(scanner.Text())
		if err != nil {
			return added, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if name == "" {
			continue
		}
		tuple, err := s.parseTuple(name, args)
		if err != nil {
			return added, fmt.Errorf("line %d: %w", lineNo, err)
		}
		ok, err := s.relations[name].AddTuple(tuple)
		if err != nil {
			return added, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if ok {
			added++
		}
	}
	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("reading facts: %w", err)
	}
	return added, nil
}

func (s *Store) parseTuple(name string, args []string) (reltree.Tuple, error) {
	rel, ok := s.relations[name]
	if !ok {
		tuple := make(reltree.Tuple, len(args))
		types := make([]reltree.Type, len(args))
		for i, a := range args {
			tuple[i], types[i] = reltree.InferValue(a)
		}
		if _, err := s.Declare(name, types); err != nil {
			return nil, err
		}
		return tuple, nil
	}
	if len(args) != rel.Arity() {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrArity, name, rel.Arity(), len(args))
	}
	tuple := make(reltree.Tuple, len(args))
	for i, a := range args {
		v, err := reltree.ParseValue(a, rel.types[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %s argument %d: %v", ErrMalformedFact, name, i, err)
		}
		tuple[i] = v
	}
	return tuple, nil
}
