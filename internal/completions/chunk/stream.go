package chunk

import "context"

// Stream is a pull-based source of Chunks. Next blocks until a chunk is
// available, the stream ends (ok=false, err=nil), or ctx is cancelled.
// This is the Go shape of the source system's async-iterable chunk stream.
// Every vendor transformer already returns this one contract, so
// StreamAdapterMiddleware passes streams through unchanged.
type Stream interface {
	Next(ctx context.Context) (c Chunk, ok bool, err error)
}

// FuncStream adapts a pull function into a Stream.
type FuncStream func(ctx context.Context) (Chunk, bool, error)

func (f FuncStream) Next(ctx context.Context) (Chunk, bool, error) { return f(ctx) }

// ChannelStream adapts a Go channel pair into a Stream, the idiomatic Go
// equivalent of an async iterable: producers push onto ch and errc (at most
// one error, sent right before ch is closed).
type ChannelStream struct {
	Ch   <-chan Chunk
	ErrC <-chan error
}

func (s ChannelStream) Next(ctx context.Context) (Chunk, bool, error) {
	select {
	case <-ctx.Done():
		return Chunk{}, false, ctx.Err()
	case c, ok := <-s.Ch:
		if !ok {
			select {
			case err := <-s.ErrC:
				return Chunk{}, false, err
			default:
				return Chunk{}, false, nil
			}
		}
		return c, true, nil
	}
}

// SliceStream replays a fixed slice of chunks, used heavily in tests and by
// the tool loop to replay an inner round's chunks into the outer level.
type SliceStream struct {
	chunks []Chunk
	pos    int
}

// NewSliceStream returns a Stream over a fixed slice.
func NewSliceStream(chunks []Chunk) *SliceStream { return &SliceStream{chunks: chunks} }

func (s *SliceStream) Next(ctx context.Context) (Chunk, bool, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, false, err
	}
	if s.pos >= len(s.chunks) {
		return Chunk{}, false, nil
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, true, nil
}

// Collect drains a Stream to a slice, used by tests and by the tool loop
// when it needs the whole inner round's chunks before deciding whether to
// recurse again.
func Collect(ctx context.Context, s Stream) ([]Chunk, error) {
	var out []Chunk
	for {
		c, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, c)
	}
}
