package branch

import (
	"maps"

	"github.com/hupe1980/mailmesh/core"
	"github.com/hupe1980/mailmesh/logging"
	"github.com/hupe1980/mailmesh/model"
	"github.com/hupe1980/mailmesh/tool"
	"github.com/hupe1980/mailmesh/transcript"
)

// Config is the construction template for a Branch. Dispatchers keep one
// default Config and Clone it per slot.
type Config struct {
	// Model answers chat requests. Required.
	Model model.Model
	// Name defaults to the branch id.
	Name string
	// Instructions is the system prompt sent with every request.
	Instructions string
	// PersistPath is a directory for JSON transcripts. Ignored when
	// Transcripts is set.
	PersistPath string
	// Transcripts receives the history after every chat call.
	Transcripts transcript.Store
	// Tools is shared by reference between clones.
	Tools *tool.Set
	// Messages seeds the conversation history.
	Messages []core.Content
	// ModelOptions are passed on every request (e.g. "temperature").
	ModelOptions map[string]any
	// MaxModelCalls bounds model calls per chat (0 = unlimited).
	MaxModelCalls int
	Logger        logging.Logger
}

// Clone returns a copy whose history and options can be mutated freely. The
// tool set, model, store and logger stay shared.
func (c Config) Clone() Config {
	out := c
	out.Messages = core.CloneContents(c.Messages)
	if c.ModelOptions != nil {
		out.ModelOptions = maps.Clone(c.ModelOptions)
	}
	return out
}
