package mailmesh

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mailmesh/agent"
	"github.com/hupe1980/mailmesh/config"
	"github.com/hupe1980/mailmesh/internal/testutil"
	"github.com/hupe1980/mailmesh/mail"
	"github.com/hupe1980/mailmesh/transcript"
)

func TestMesh_DispatchWithDefaults(t *testing.T) {
	var logs bytes.Buffer
	cfg := config.Default()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Dispatch.Replicas = 2
	cfg.Dispatch.IncludeMapping = true

	m, err := New(context.Background(), func(o *Options) {
		o.Config = cfg
		o.LogOutput = &logs
	})
	require.NoError(t, err)
	defer m.Close()

	results, err := m.Dispatch(context.Background(), m.NewRequest(agent.One("hello"), agent.Input{}))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Mock response to: hello", results[0].Value)
	assert.Equal(t, 2, m.Registry().Len())
	assert.Contains(t, logs.String(), "Dispatch completed")

	// Config passed in is copied.
	cfg.Dispatch.Replicas = 9
	assert.Equal(t, 2, m.Config().Dispatch.Replicas)
}

func TestMesh_SQLiteTranscripts(t *testing.T) {
	cfg := config.Default()
	cfg.Transcript = config.TranscriptConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "t.db")}

	m, err := New(context.Background(), func(o *Options) { o.Config = cfg })
	require.NoError(t, err)

	results, err := m.Dispatch(context.Background(), agent.DispatchRequest{
		Instruction: agent.One("persist me"), IncludeMapping: true,
	})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	store, err := transcript.OpenSQLite(cfg.Transcript.Path)
	require.NoError(t, err)
	defer store.Close()

	tr, err := store.Load(context.Background(), results[0].Mapping.BranchID)
	require.NoError(t, err)
	require.Len(t, tr.Entries, 2)
	assert.Equal(t, "persist me", tr.Entries[0].Text)
}

func TestMesh_NewAgent(t *testing.T) {
	cfg := config.Default()
	cfg.Router.Interval = time.Millisecond
	cfg.Agent.Deadline = time.Second

	m, err := New(context.Background(), func(o *Options) { o.Config = cfg })
	require.NoError(t, err)

	structure := testutil.NewExecutor(nil)
	executable := testutil.NewExecutor(testutil.FinishOn(mail.CategoryStart))

	a, err := m.NewAgent(structure, executable)
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "go", a.StartContext())
}

func TestMesh_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Provider = "unknown"
	_, err := New(context.Background(), func(o *Options) { o.Config = cfg })
	assert.Error(t, err)
}

func TestNewModel(t *testing.T) {
	ctx := context.Background()

	mdl, err := NewModel(ctx, config.ModelConfig{Provider: "mock", Name: "m"})
	require.NoError(t, err)
	assert.Equal(t, "mock", mdl.Info().Provider)

	mdl, err = NewModel(ctx, config.ModelConfig{Provider: "openai", Name: "gpt-4o-mini", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", mdl.Info().Provider)

	mdl, err = NewModel(ctx, config.ModelConfig{Provider: "anthropic", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", mdl.Info().Provider)

	_, err = NewModel(ctx, config.ModelConfig{Provider: "acme"})
	assert.Error(t, err)
}
