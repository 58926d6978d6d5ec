package literal

import (
	"fmt"

	"github.com/sulmone/mbg/src/value"
)

// ParseError is returned for malformed build-description source, with the
// offending file name and position attached (spec.md §7).
type ParseError struct {
	File string
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Col, e.Msg)
}

// Parse parses src (the contents of a build description named file, used
// only for error messages) into a value.Value tree. The top level must be a
// mapping, per spec.md §3 (BuildFile is "a keyed mapping on disk").
func Parse(file, src string) (*value.Map, error) {
	p := &parser{file: file, lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	m, err := p.parseMap()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected trailing content after top-level mapping")
	}
	return m, nil
}

type parser struct {
	file string
	lex  *lexer
	tok  token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		if le, ok := err.(*lexError); ok {
			return &ParseError{File: p.file, Line: le.line, Col: le.col, Msg: le.msg}
		}
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &ParseError{File: p.file, Line: p.tok.line, Col: p.tok.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(k tokenKind) error {
	if p.tok.kind != k {
		return p.errorf("expected %s, got %s", token{kind: k}, p.tok)
	}
	return p.advance()
}

func (p *parser) parseValue() (value.Value, error) {
	switch p.tok.kind {
	case tokString:
		s := p.tok.text
		if err := p.advance(); err != nil {
			return value.Value{}, err
		}
		return value.String(s), nil
	case tokInt:
		n := p.tok.ival
		if err := p.advance(); err != nil {
			return value.Value{}, err
		}
		return value.Int(n), nil
	case tokBool:
		b := p.tok.bval
		if err := p.advance(); err != nil {
			return value.Value{}, err
		}
		return value.Bool(b), nil
	case tokLBracket:
		return p.parseSeq()
	case tokLBrace:
		m, err := p.parseMap()
		if err != nil {
			return value.Value{}, err
		}
		return value.MapValue(m), nil
	default:
		return value.Value{}, p.errorf("unexpected token %s, expected a value", p.tok)
	}
}

func (p *parser) parseSeq() (value.Value, error) {
	if err := p.expect(tokLBracket); err != nil {
		return value.Value{}, err
	}
	var elems []value.Value
	for p.tok.kind != tokRBracket {
		v, err := p.parseValue()
		if err != nil {
			return value.Value{}, err
		}
		elems = append(elems, v)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return value.Value{}, err
			}
			continue
		}
		break
	}
	if err := p.expect(tokRBracket); err != nil {
		return value.Value{}, err
	}
	return value.Seq(elems...), nil
}

func (p *parser) parseMap() (*value.Map, error) {
	if err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	m := value.NewMap()
	for p.tok.kind != tokRBrace {
		if p.tok.kind != tokString {
			return nil, p.errorf("mapping keys must be quoted strings, got %s", p.tok)
		}
		key := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expect(tokColon); err != nil {
			return nil, err
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return m, nil
}
