package protocol_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"susm/internal/domain"
	"susm/internal/protocol"
)

type fakeStore struct {
	fail    error
	created []domain.TemplatePayload
	updated map[string]domain.TemplatePayload
}

func (s *fakeStore) CreateTemplate(_ context.Context, p domain.TemplatePayload) (domain.ProtocolTemplate, error) {
	if s.fail != nil {
		return domain.ProtocolTemplate{}, s.fail
	}
	s.created = append(s.created, p)
	return domain.ProtocolTemplate{ID: "new-id", Name: p.Name, Fields: p.Fields}, nil
}

func (s *fakeStore) UpdateTemplate(_ context.Context, id string, p domain.TemplatePayload) (domain.ProtocolTemplate, error) {
	if s.fail != nil {
		return domain.ProtocolTemplate{}, s.fail
	}
	if s.updated == nil {
		s.updated = map[string]domain.TemplatePayload{}
	}
	s.updated[id] = p
	return domain.ProtocolTemplate{ID: domain.ObjectID(id), Name: p.Name, Fields: p.Fields}, nil
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	s := protocol.NewEditSession(nil)
	assert.Equal(t, protocol.StateEmpty, s.State())

	idx, err := s.AddField()
	require.NoError(t, err)
	assert.Equal(t, protocol.StateEditing, s.State())

	_, err = s.Submit(ctx, store)
	var verr protocol.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, protocol.StateEditing, s.State())
	assert.Len(t, s.Draft().Fields, 1, "draft survives failed validation")

	require.NoError(t, s.Edit(func(d *protocol.Draft) {
		d.Name = "Inspection"
		d.SetField(idx, "Meter", domain.Number(), true)
	}))

	store.fail = errors.New("connection refused")
	_, err = s.Submit(ctx, store)
	var rf *protocol.RemoteFailure
	require.True(t, errors.As(err, &rf))
	assert.Equal(t, "create template", rf.Op)
	assert.Equal(t, protocol.StateFailed, s.State())

	store.fail = nil
	saved, err := s.Retry(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, protocol.StateSaved, s.State())
	assert.Equal(t, domain.ObjectID("new-id"), saved.ID)
	assert.Len(t, store.created, 1)

	assert.ErrorIs(t, s.Edit(nil), protocol.ErrSessionState)
	_, err = s.Submit(ctx, store)
	assert.ErrorIs(t, err, protocol.ErrSessionState)
}

func TestSessionUpdatesExistingTemplate(t *testing.T) {
	store := &fakeStore{}
	s := protocol.EditTemplate(domain.ProtocolTemplate{
		ID:     "t-9",
		Name:   "Survey",
		Fields: []domain.ProtocolField{{Label: "Photo", Type: domain.Custom(""), Order: 0}},
	}, nil)
	assert.Equal(t, protocol.StateEditing, s.State())

	_, err := s.Submit(context.Background(), store)
	require.NoError(t, err)
	require.Contains(t, store.updated, "t-9")
	assert.Equal(t, domain.Custom("Photo"), store.updated["t-9"].Fields[0].Type)
	assert.Empty(t, store.created)
}

func TestFailedSessionCanBeEdited(t *testing.T) {
	store := &fakeStore{fail: errors.New("boom")}
	s := protocol.NewEditSession(nil)
	require.NoError(t, s.Edit(func(d *protocol.Draft) { d.Name = "x" }))
	_, err := s.Submit(context.Background(), store)
	require.Error(t, err)
	require.Equal(t, protocol.StateFailed, s.State())

	_, err = s.RemoveField(0)
	require.NoError(t, err)
	assert.Equal(t, protocol.StateEditing, s.State())
	_, err = s.Retry(context.Background(), store)
	assert.ErrorIs(t, err, protocol.ErrSessionState)
}
