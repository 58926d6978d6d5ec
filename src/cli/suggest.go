// Package cli holds small presentation helpers shared by the command-line
// entry point and the pipeline stages that report errors back to it.
package cli

import (
	"sort"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Suggest returns haystack entries within maxSuggestionDistance edits of
// needle, closest first. Used to turn "dependency :fooo is not in the loaded
// graph" into a hint pointing at the target the caller probably meant.
func Suggest(needle string, haystack []string, maxSuggestionDistance int) []string {
	r := []rune(needle)
	options := make([]suggestion, 0, len(haystack))
	for _, straw := range haystack {
		distance := levenshtein.DistanceForStrings(r, []rune(straw), levenshtein.DefaultOptions)
		if len(straw) > 0 && distance <= maxSuggestionDistance {
			options = append(options, suggestion{s: straw, dist: distance})
		}
	}
	sort.Slice(options, func(i, j int) bool { return options[i].dist < options[j].dist })
	ret := make([]string, len(options))
	for i, o := range options {
		ret[i] = o.s
	}
	return ret
}

// PrettyPrintSuggestion renders Suggest's result as an appendable error
// message fragment, or "" if nothing was close enough to suggest.
func PrettyPrintSuggestion(needle string, haystack []string, maxSuggestionDistance int) string {
	options := Suggest(needle, haystack, maxSuggestionDistance)
	if len(options) == 0 {
		return ""
	}
	msg := "\nMaybe you meant "
	for i, o := range options {
		if i > 0 {
			if i < len(options)-1 {
				msg += " , "
			} else {
				msg += " or "
			}
		}
		msg += o
	}
	return msg + " ?"
}

type suggestion struct {
	s    string
	dist int
}
