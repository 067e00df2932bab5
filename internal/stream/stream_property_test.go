package stream

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/tidwall/gjson"
)

// genClosingPunctuation draws from the printable members of the
// final-punctuation set.
var genClosingPunctuation = gen.OneConstOf(
	'.', '?', '!', '。', '？', '！', '}', ']', ')', '"', '\'', '”', '’', '`',
)

func TestFinalPunctuation_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("appending closing punctuation completes any text", prop.ForAll(
		func(base string, punct rune) bool {
			return endsWithFinalPunctuation(base + string(punct))
		},
		gen.AlphaString(),
		genClosingPunctuation,
	))

	properties.Property("alphanumeric tails always read as truncated", prop.ForAll(
		func(word string) bool {
			return !endsWithFinalPunctuation(word)
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestContinuationBody_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("turns are preserved and the splice follows the last user turn", prop.ForAll(
		func(userFlags []bool, acc string) bool {
			turns := make([]string, len(userFlags))
			for i, user := range userFlags {
				role := "model"
				if user {
					role = "user"
				}
				turns[i] = fmt.Sprintf(`{"role":%q,"parts":[{"text":"turn-%d"}]}`, role, i)
			}
			original := []byte(`{"contents":[` + strings.Join(turns, ",") + `]}`)

			body, err := continuationBody(original, acc)
			if err != nil {
				return false
			}
			out := gjson.GetBytes(body, "contents").Array()
			if len(out) != len(userFlags)+2 {
				return false
			}

			lastUser := -1
			for i := len(userFlags) - 1; i >= 0; i-- {
				if userFlags[i] {
					lastUser = i
					break
				}
			}
			at := lastUser + 1
			if lastUser == -1 {
				at = len(userFlags)
			}

			if out[at].Get("role").String() != "model" || out[at].Get("parts.0.text").String() != acc {
				return false
			}
			if out[at+1].Get("role").String() != "user" || out[at+1].Get("parts.0.text").String() != continuePrompt {
				return false
			}

			kept := 0
			for i, turn := range out {
				if i == at || i == at+1 {
					continue
				}
				if turn.Get("parts.0.text").String() != fmt.Sprintf("turn-%d", kept) {
					return false
				}
				kept++
			}
			return kept == len(userFlags)
		},
		gen.SliceOf(gen.Bool()),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
