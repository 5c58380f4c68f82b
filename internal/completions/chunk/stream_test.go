package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceStreamCollect(t *testing.T) {
	want := []Chunk{Text("a"), Text("b"), ResponseComplete(nil, nil)}
	s := NewSliceStream(want)

	got, err := Collect(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestChannelStreamPropagatesError(t *testing.T) {
	ch := make(chan Chunk)
	errc := make(chan error, 1)
	close(ch)
	errc <- context.DeadlineExceeded

	s := ChannelStream{Ch: ch, ErrC: errc}
	_, ok, err := s.Next(context.Background())
	require.False(t, ok)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelStreamCancelled(t *testing.T) {
	ch := make(chan Chunk)
	errc := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := ChannelStream{Ch: ch, ErrC: errc}
	_, ok, err := s.Next(ctx)
	require.False(t, ok)
	require.ErrorIs(t, err, context.Canceled)
}
