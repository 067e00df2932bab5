package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// continuePrompt is the synthetic user instruction carried by every
// continuation request.
const continuePrompt = "Continue exactly where you left off without any preamble or repetition."

type turnPart struct {
	Text string `json:"text"`
}

type turn struct {
	Role  string     `json:"role"`
	Parts []turnPart `json:"parts"`
}

func marshalTurn(role, text string) ([]byte, error) {
	return json.Marshal(turn{Role: role, Parts: []turnPart{{Text: text}}})
}

// continuationBody rebuilds the original request for a continuation
// attempt: a model turn carrying the text relayed so far plus the
// continue instruction, spliced in directly after the last user turn.
// Bodies without a user turn get both appended at the tail. Every other
// field of the original body is preserved, and the original slice is
// left untouched.
func continuationBody(original []byte, accumulated string) ([]byte, error) {
	modelTurn, err := marshalTurn("model", accumulated)
	if err != nil {
		return nil, fmt.Errorf("stream: marshal model turn: %w", err)
	}
	userTurn, err := marshalTurn("user", continuePrompt)
	if err != nil {
		return nil, fmt.Errorf("stream: marshal user turn: %w", err)
	}

	var turns []gjson.Result
	if contents := gjson.GetBytes(original, "contents"); contents.IsArray() {
		turns = contents.Array()
	}

	lastUser := -1
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Get("role").String() == "user" {
			lastUser = i
			break
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, t := range turns {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(t.Raw)
		if i == lastUser {
			buf.WriteByte(',')
			buf.Write(modelTurn)
			buf.WriteByte(',')
			buf.Write(userTurn)
		}
	}
	if lastUser == -1 {
		if len(turns) > 0 {
			buf.WriteByte(',')
		}
		buf.Write(modelTurn)
		buf.WriteByte(',')
		buf.Write(userTurn)
	}
	buf.WriteByte(']')

	spliced, err := sjson.SetRawBytes(original, "contents", buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("stream: splice continuation turns: %w", err)
	}
	return spliced, nil
}
