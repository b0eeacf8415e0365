package protocol_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"susm/internal/domain"
	"susm/internal/protocol"
)

type recordingGenerator struct {
	reqs []domain.GenerationRequest
}

func (g *recordingGenerator) PreviewProtocol(_ context.Context, req domain.GenerationRequest) (domain.PreviewData, error) {
	g.reqs = append(g.reqs, req)
	return domain.PreviewData{ProjectName: "Tower"}, nil
}

func (g *recordingGenerator) GenerateProtocol(_ context.Context, req domain.GenerationRequest) ([]byte, error) {
	g.reqs = append(g.reqs, req)
	return []byte("%PDF"), nil
}

func TestFlowPassesDataAndSelectionOrder(t *testing.T) {
	g := &recordingGenerator{}
	flow := protocol.NewGenerationFlow("p1", []domain.Object{{ID: "o1"}, {ID: "o2"}, {ID: "o3"}}, nil)
	flow.TemplateID = "t1"
	flow.Data = map[string]any{"Meter": 42.0}
	flow.Selection.Clear()
	flow.Selection.Toggle("o3", true)
	flow.Selection.Toggle("o1", true)

	_, err := flow.Preview(context.Background(), g)
	require.NoError(t, err)
	_, err = flow.Generate(context.Background(), g)
	require.NoError(t, err)

	require.Len(t, g.reqs, 2)
	assert.Equal(t, g.reqs[0], g.reqs[1], "preview and generate share one request")
	assert.Equal(t, []string{"o3", "o1"}, g.reqs[0].ObjectIDs)
	assert.Equal(t, 42.0, g.reqs[0].Data["Meter"])
}

func TestFlowOmitsEmptyData(t *testing.T) {
	flow := protocol.NewGenerationFlow("p1", []domain.Object{{ID: "o1"}}, nil)
	flow.TemplateID = "t1"
	flow.Data = map[string]any{}
	req, err := flow.Request()
	require.NoError(t, err)
	assert.Nil(t, req.Data)
}
