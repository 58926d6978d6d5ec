package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuggestOrdersByDistance(t *testing.T) {
	got := Suggest("//src/foo:bar", []string{"//src/foo:baz", "//src/foo:bar2", "//other:thing"}, 3)
	assert.Equal(t, []string{"//src/foo:bar2", "//src/foo:baz"}, got)
}

func TestSuggestExcludesDistantEntries(t *testing.T) {
	got := Suggest("//src/foo:bar", []string{"//completely/different:target"}, 3)
	assert.Empty(t, got)
}

func TestPrettyPrintSuggestionEmptyWhenNoneClose(t *testing.T) {
	assert.Equal(t, "", PrettyPrintSuggestion("//src/foo:bar", []string{"//x:y"}, 2))
}

func TestPrettyPrintSuggestionSingle(t *testing.T) {
	msg := PrettyPrintSuggestion("//src/foo:bar", []string{"//src/foo:baz"}, 3)
	assert.Equal(t, "\nMaybe you meant //src/foo:baz ?", msg)
}

func TestPrettyPrintSuggestionMultiple(t *testing.T) {
	msg := PrettyPrintSuggestion("//src/foo:bar", []string{"//src/foo:bar1", "//src/foo:bar2"}, 3)
	assert.Contains(t, msg, " or ")
}
