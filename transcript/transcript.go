package transcript

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/mailmesh/core"
)

// ErrNotFound is returned by Load when no transcript exists for a branch.
var ErrNotFound = errors.New("transcript not found")

// Entry kinds.
const (
	KindText             = "text"
	KindData             = "data"
	KindFunctionCall     = "function_call"
	KindFunctionResponse = "function_response"
)

// Entry is one flattened content part.
type Entry struct {
	Role      string `json:"role"`
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Transcript is the persisted history of one branch.
type Transcript struct {
	BranchID string    `json:"branch_id"`
	Name     string    `json:"name,omitempty"`
	Model    string    `json:"model,omitempty"`
	Entries  []Entry   `json:"entries"`
	Updated  time.Time `json:"updated"`
}

// Store saves and loads transcripts keyed by branch id.
type Store interface {
	Save(ctx context.Context, t Transcript) error
	Load(ctx context.Context, branchID string) (*Transcript, error)
}

// FromContents flattens a conversation into a transcript. Consecutive parts
// of one content become consecutive entries sharing its role.
func FromContents(branchID string, contents []core.Content) Transcript {
	t := Transcript{BranchID: branchID, Updated: time.Now().UTC()}
	for _, c := range contents {
		for _, p := range c.Parts {
			e := Entry{Role: c.Role}
			switch v := p.(type) {
			case core.TextPart:
				e.Kind, e.Text = KindText, v.Text
			case core.DataPart:
				e.Kind, e.Data = KindData, v.Data
			case core.FunctionCallPart:
				e.Kind = KindFunctionCall
				e.Name, e.CallID, e.Arguments = v.FunctionCall.Name, v.FunctionCall.ID, v.FunctionCall.Arguments
			case core.FunctionResponsePart:
				e.Kind = KindFunctionResponse
				e.Name, e.CallID = v.FunctionResponse.Name, v.FunctionResponse.ID
				e.Data, e.Error = v.FunctionResponse.Response, v.FunctionResponse.Error
			default:
				continue
			}
			t.Entries = append(t.Entries, e)
		}
	}
	return t
}

// Contents rebuilds the conversation, merging adjacent entries with the same
// role back into one content.
func (t Transcript) Contents() []core.Content {
	var out []core.Content
	for _, e := range t.Entries {
		var part core.Part
		switch e.Kind {
		case KindText:
			part = core.TextPart{Text: e.Text}
		case KindData:
			data, _ := e.Data.(map[string]any)
			part = core.DataPart{Data: data}
		case KindFunctionCall:
			part = core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: e.CallID, Name: e.Name, Arguments: e.Arguments}}
		case KindFunctionResponse:
			part = core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: e.CallID, Name: e.Name, Response: e.Data, Error: e.Error}}
		default:
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == e.Role {
			out[n-1].Parts = append(out[n-1].Parts, part)
			continue
		}
		out = append(out, core.Content{Role: e.Role, Parts: []core.Part{part}})
	}
	return out
}
