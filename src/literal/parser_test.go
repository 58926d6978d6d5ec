package literal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sulmone/mbg/src/value"
)

func TestParseSimpleMapping(t *testing.T) {
	m, err := Parse("t.build", `{
		'targets': [
			{
				'target_name': 'prog',
				'type': 'executable',
				'sources': ['main.c', 'util.c'],
				'defines': ['DEBUG=1'],
			},
		],
	}`)
	require.NoError(t, err)
	targets, _ := m.Get("targets")
	assert.Equal(t, value.KindSeq, targets.Kind())
	first := targets.AsSeq()[0]
	name, _ := first.AsMap().Get("target_name")
	s, _ := name.AsString()
	assert.Equal(t, "prog", s)
}

func TestParseIntBoolAndComments(t *testing.T) {
	m, err := Parse("t.build", `{
		# a comment
		'n': -5,
		'b': True,
		'c': false,
	}`)
	require.NoError(t, err)
	n, _ := m.Get("n")
	iv, _ := n.AsInt()
	assert.Equal(t, -5, iv)
	b, _ := m.Get("b")
	assert.True(t, b.IsTruthy())
	c, _ := m.Get("c")
	assert.False(t, c.IsTruthy())
}

func TestParseRejectsUnquotedKey(t *testing.T) {
	_, err := Parse("t.build", `{ foo: 'bar' }`)
	assert.Error(t, err)
}

func TestParseRejectsTrailingContent(t *testing.T) {
	_, err := Parse("t.build", `{} garbage`)
	assert.Error(t, err)
}

func TestParseErrorHasPosition(t *testing.T) {
	_, err := Parse("t.build", "{\n  'x':\n}")
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, "t.build", pe.File)
	assert.Equal(t, 3, pe.Line)
}

func TestParseEscapes(t *testing.T) {
	m, err := Parse("t.build", `{'s': 'a\nb\\c'}`)
	require.NoError(t, err)
	v, _ := m.Get("s")
	s, _ := v.AsString()
	assert.Equal(t, "a\nb\\c", s)
}

func TestParseTrailingComma(t *testing.T) {
	_, err := Parse("t.build", `{'a': [1, 2,],}`)
	require.NoError(t, err)
}
