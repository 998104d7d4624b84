package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downloadnotifier/downloadnotifier/internal/notification"
	"github.com/downloadnotifier/downloadnotifier/internal/notification/mock"
)

type fixedStrategy struct {
	name  string
	size  int64
	err   error
	calls int
}

func (f *fixedStrategy) Name() string { return f.name }

func (f *fixedStrategy) Resolve(context.Context, Request) (int64, error) {
	f.calls++
	return f.size, f.err
}

func TestResolver_FirstSuccessWins(t *testing.T) {
	first := &fixedStrategy{name: "first", err: ErrUnknownSize}
	second := &fixedStrategy{name: "second", size: 2048}
	third := &fixedStrategy{name: "third", size: 4096}
	sink := mock.NewSink()

	r := New(sink, zerolog.New(zerolog.NewTestWriter(t)), first, second, third)
	res, ok := r.Resolve(context.Background(), Request{Path: "/downloads/a.bin"})

	require.True(t, ok)
	assert.Equal(t, int64(2048), res.Size)
	assert.Equal(t, "second", res.Strategy)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, third.calls)
	assert.Len(t, sink.LogsContaining("Expected size from second"), 1)
}

func TestResolver_FailuresDegradeToUnknown(t *testing.T) {
	broken := &fixedStrategy{name: "broken", err: errors.New("boom")}
	zero := &fixedStrategy{name: "zero", size: 0}
	negative := &fixedStrategy{name: "negative", size: -5}
	sink := mock.NewSink()

	r := New(sink, zerolog.New(zerolog.NewTestWriter(t)), broken, zero, negative)
	size, ok := r.ResolvePath(context.Background(), "/downloads/a.bin")

	assert.False(t, ok)
	assert.Zero(t, size)

	failures := sink.LogsContaining("broken lookup failed")
	require.Len(t, failures, 1)
	assert.Equal(t, notification.LevelInfo, failures[0].Level)
}

func TestResolver_NoStrategies(t *testing.T) {
	r := New(nil, zerolog.Nop())
	_, ok := r.ResolvePath(context.Background(), "/downloads/a.bin")
	assert.False(t, ok)
	assert.Empty(t, r.Strategies())
}

func TestBuild_StrategyOrder(t *testing.T) {
	r := Build(Options{
		Fs:         afero.NewMemMapFs(),
		Companion:  true,
		ChatClient: true,
		Remote:     true,
	}, nil, zerolog.Nop())

	assert.Equal(t, []string{"companion file", "chat client metadata", "remote HEAD"}, r.Strategies())

	r = Build(Options{Fs: afero.NewMemMapFs(), Remote: true}, nil, zerolog.Nop())
	assert.Equal(t, []string{"remote HEAD"}, r.Strategies())
}

func TestBuild_CompanionEndToEnd(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/downloads/report.bin", []byte("partial"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/downloads/report.bin.json", []byte(`{"size": 4096}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/downloads/other.bin", []byte("partial"), 0o644))

	r := Build(Options{Fs: fs, Companion: true, ChatClient: true, Remote: true}, nil, zerolog.Nop())

	size, ok := r.ResolvePath(context.Background(), "/downloads/report.bin")
	require.True(t, ok)
	assert.Equal(t, int64(4096), size)

	_, ok = r.ResolvePath(context.Background(), "/downloads/other.bin")
	assert.False(t, ok)
}
