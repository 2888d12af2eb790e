package transcript

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hupe1980/mailmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContents() []core.Content {
	return []core.Content{
		core.NewTextContent(core.RoleUser, "weather in Berlin?"),
		{Role: core.RoleAssistant, Parts: []core.Part{
			core.TextPart{Text: "checking"},
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "weather", Arguments: `{"city":"Berlin"}`}},
		}},
		{Role: core.RoleTool, Parts: []core.Part{
			core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c1", Name: "weather", Response: "sunny"}},
		}},
		core.NewTextContent(core.RoleAssistant, "It is sunny."),
	}
}

func TestFromContents_RoundTrip(t *testing.T) {
	tr := FromContents("b1", sampleContents())
	require.Len(t, tr.Entries, 5)
	assert.Equal(t, KindFunctionCall, tr.Entries[2].Kind)
	assert.Equal(t, "c1", tr.Entries[3].CallID)

	back := tr.Contents()
	require.Len(t, back, 4)
	assert.Len(t, back[1].Parts, 2)
	assert.Equal(t, "It is sunny.", back[3].Text())
	assert.Equal(t, "weather", back[1].FunctionCalls()[0].Name)
}

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	tr := FromContents("b1", sampleContents())
	tr.Name, tr.Model = "b1", "mock"
	require.NoError(t, store.Save(ctx, tr))

	loaded, err := store.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "mock", loaded.Model)
	require.Len(t, loaded.Entries, len(tr.Entries))
	assert.Equal(t, "sunny", loaded.Entries[3].Data)
	assert.Equal(t, `{"city":"Berlin"}`, loaded.Entries[2].Arguments)

	// Saving again replaces the previous entries.
	tr.Entries = tr.Entries[:1]
	require.NoError(t, store.Save(ctx, tr))
	loaded, err = store.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, loaded.Entries, 1)

	assert.Error(t, store.Save(ctx, Transcript{}))
}

func TestJSONStore(t *testing.T) {
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "transcripts"))
	require.NoError(t, err)
	testStore(t, store)
	assert.FileExists(t, filepath.Join(store.Dir(), "b1.json"))
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "transcripts.db"))
	require.NoError(t, err)
	defer store.Close()
	testStore(t, store)
}
