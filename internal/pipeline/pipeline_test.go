package pipeline_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scourlab/scour/internal/pipeline"
)

func TestDecodeSearchTask_Valid(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	raw, err := json.Marshal(pipeline.SearchTask{RequestID: id, Topic: "distributed consensus"})
	require.NoError(t, err)

	task, err := pipeline.DecodeSearchTask(raw)
	require.NoError(t, err)

	assert.Equal(t, id, task.RequestID)
	assert.Equal(t, "distributed consensus", task.Topic)
}

func TestDecodeSearchTask_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{{`},
		{name: "missing topic", raw: `{"request_id":"7f9c24e5-2f0c-4bbf-8a9e-5d4c1a2b3c4d"}`},
		{name: "empty topic", raw: `{"request_id":"7f9c24e5-2f0c-4bbf-8a9e-5d4c1a2b3c4d","topic":""}`},
		{name: "bad uuid", raw: `{"request_id":"not-a-uuid","topic":"x"}`},
		{name: "wrong types", raw: `{"request_id":42,"topic":["x"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := pipeline.DecodeSearchTask([]byte(tt.raw))
			require.ErrorIs(t, err, pipeline.ErrMalformedPayload)
		})
	}
}

func TestDecodeAnalyzeTask_PhasePassthrough(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"request_id":"7f9c24e5-2f0c-4bbf-8a9e-5d4c1a2b3c4d","topic":"raft","phase":"analyze"}`)

	task, err := pipeline.DecodeAnalyzeTask(raw)
	require.NoError(t, err)

	assert.Equal(t, pipeline.PhaseAnalyze, task.Phase)
	require.NoError(t, task.Phase.Validate())
}

func TestPhase_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		phase   pipeline.Phase
		wantErr bool
	}{
		{name: "empty is legacy analyze", phase: "", wantErr: false},
		{name: "analyze", phase: pipeline.PhaseAnalyze, wantErr: false},
		{name: "reserved generate_queries rejected", phase: "generate_queries", wantErr: true},
		{name: "junk rejected", phase: "summon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.phase.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, pipeline.ErrUnknownPhase)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestDecodeArchiveTask(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	raw, err := json.Marshal(pipeline.ArchiveTask{RequestID: id})
	require.NoError(t, err)

	task, err := pipeline.DecodeArchiveTask(raw)
	require.NoError(t, err)
	assert.Equal(t, id, task.RequestID)

	_, err = pipeline.DecodeArchiveTask([]byte(`{}`))
	require.ErrorIs(t, err, pipeline.ErrMalformedPayload)
}
