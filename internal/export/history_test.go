package export

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"susm/internal/domain"
)

func TestHistorySortsNewestFirst(t *testing.T) {
	project := domain.Project{
		Name: "Tower",
		Protocols: []domain.ProtocolRecord{
			{ID: "old", TemplateName: "Handover", ObjectNames: []string{"A"}, GeneratedAt: "2024-01-01T08:00:00Z", GeneratedBy: "ana"},
			{ID: "undated", TemplateName: "Handover"},
			{ID: "new", TemplateName: "Final", ObjectNames: []string{"A", "B"}, GeneratedAt: "2024-02-01T09:30:00Z", GeneratedBy: "ana"},
		},
	}
	data, err := History(project, time.UTC)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(historySheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, historyHeaders, rows[0])
	assert.Equal(t, []string{"2024-02-01 09:30:00", "Final", "A, B", "ana", "new"}, rows[1])
	assert.Equal(t, "old", rows[2][4])
	assert.Equal(t, "undated", rows[3][len(rows[3])-1])
}

func TestWriteHistoryEmptyProject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.xlsx")
	require.NoError(t, WriteHistory(path, domain.Project{Name: "Empty"}, time.UTC))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(historySheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
