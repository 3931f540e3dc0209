package prober

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"landscraper/pkg/logger"
	"landscraper/pkg/models"
	"landscraper/pkg/remote"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []models.RegionID
	reply func(id models.RegionID) (*remote.Response, error)
}

func (f *fakeClient) Probe(ctx context.Context, id models.RegionID) (*remote.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	return f.reply(id)
}

type fakeStore struct {
	valid     map[models.RegionID]bool
	completed map[models.RegionID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{valid: map[models.RegionID]bool{}, completed: map[models.RegionID]bool{}}
}

func (s *fakeStore) IsValid(id models.RegionID) bool     { return s.valid[id] }
func (s *fakeStore) IsCompleted(id models.RegionID) bool { return s.completed[id] }
func (s *fakeStore) MarkValid(id models.RegionID)        { s.valid[id] = true }

func body(s string) func(models.RegionID) (*remote.Response, error) {
	return func(models.RegionID) (*remote.Response, error) {
		return &remote.Response{Status: 200, Body: []byte(s)}, nil
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name      string
		reply     func(models.RegionID) (*remote.Response, error)
		want      models.ProbeResult
		persisted bool
	}{
		{"features present", body(`{"type":"FeatureCollection","features":[{"id":1}]}`), models.ProbeValid, true},
		{"empty features", body(`{"type":"FeatureCollection","features":[]}`), models.ProbeInvalid, false},
		{"no features key", body(`{"type":"FeatureCollection"}`), models.ProbeInvalid, false},
		{"unparseable body", body(`<ServiceException/>`), models.ProbeUnreachable, false},
		{"transport failure", func(models.RegionID) (*remote.Response, error) {
			return nil, errors.New("connection refused")
		}, models.ProbeUnreachable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			p := New(&fakeClient{reply: tt.reply}, store, nil, logger.NewNopLogger())

			assert.Equal(t, tt.want, p.Probe(context.Background(), 4))
			assert.Equal(t, tt.persisted, store.valid[4])
		})
	}
}

func TestProbeSkipsKnownRegions(t *testing.T) {
	store := newFakeStore()
	store.valid[2] = true
	store.completed[3] = true
	client := &fakeClient{reply: body(`{"features":[]}`)}
	p := New(client, store, nil, logger.NewNopLogger())

	assert.Equal(t, models.ProbeValid, p.Probe(context.Background(), 2))
	assert.Equal(t, models.ProbeValid, p.Probe(context.Background(), 3))
	assert.Empty(t, client.calls)
}

func TestProbeLogsOutcome(t *testing.T) {
	log := logger.NewTestLogger()
	p := New(&fakeClient{reply: body(`{"features":[{}]}`)}, newFakeStore(), nil, log)

	p.Probe(context.Background(), 9)

	msg, ok := log.Find("Region is valid")
	assert.True(t, ok)
	assert.Equal(t, "9", msg.Fields["region"])
	assert.Equal(t, "prober", msg.Fields["component"])
}
