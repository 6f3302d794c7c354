package setpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFetcher struct {
	results []ServerSettings
	errs    []error
	calls   int
}

func (f *stubFetcher) FetchSettings(ctx context.Context) (ServerSettings, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return ServerSettings{}, f.errs[i]
	}
	return f.results[i], nil
}

func TestStore_GetSeededFromDefault(t *testing.T) {
	s := New(72, zap.NewNop())
	assert.Equal(t, 72.0, s.Get())

	target, source, _ := s.Snapshot()
	assert.Equal(t, 72.0, target)
	assert.Equal(t, SourceDefault, source)
}

func TestStore_SetOverridesFromUser(t *testing.T) {
	s := New(72, zap.NewNop())
	now := time.Now()

	s.Set(68, SourceUser, now)

	target, source, lastUpdated := s.Snapshot()
	assert.Equal(t, 68.0, target)
	assert.Equal(t, SourceUser, source)
	assert.True(t, lastUpdated.Equal(now))
}

func TestStore_FetchFromServerOverridesDefaultOnSuccess(t *testing.T) {
	s := New(72, zap.NewNop())
	fetcher := &stubFetcher{results: []ServerSettings{{SetTemperature: 69.5, Mode: "cool"}}}

	s.FetchFromServer(context.Background(), fetcher, time.Now)

	target, source, _ := s.Snapshot()
	assert.Equal(t, 69.5, target)
	assert.Equal(t, SourceServer, source)
	assert.Equal(t, 1, fetcher.calls)
}

// Scenario 6: server unreachable at boot keeps the configured default.
func TestStore_FetchFromServerKeepsDefaultAfterExhaustingRetries(t *testing.T) {
	s := New(72, zap.NewNop())
	s.bootBackoff = 5 * time.Millisecond
	fetcher := &stubFetcher{
		results: make([]ServerSettings, bootFetchAttempts),
		errs:    []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")},
	}

	s.FetchFromServer(context.Background(), fetcher, time.Now)

	target, source, _ := s.Snapshot()
	assert.Equal(t, 72.0, target)
	assert.Equal(t, SourceDefault, source)
	assert.Equal(t, bootFetchAttempts, fetcher.calls)
}

func TestStore_FetchFromServerStopsOnContextCancellation(t *testing.T) {
	s := New(72, zap.NewNop())
	s.bootBackoff = time.Second
	fetcher := &stubFetcher{
		results: make([]ServerSettings, bootFetchAttempts),
		errs:    []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	s.FetchFromServer(ctx, fetcher, time.Now)

	require.LessOrEqual(t, fetcher.calls, bootFetchAttempts)
	_, source, _ := s.Snapshot()
	assert.Equal(t, SourceDefault, source)
}
