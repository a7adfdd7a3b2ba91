// Package relay drives an upstream fragment stream into a caller-facing sink,
// one fragment at a time, appending a classified error fragment when the
// upstream fails.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/kalambet/chatrelay/internal/classify"
	"github.com/kalambet/chatrelay/internal/upstream"
)

// Sink receives fragments in order. A Write error means the caller is gone.
type Sink interface {
	Write(fragment string) error
}

// Outcome summarizes one relayed stream.
type Outcome struct {
	// Fragments is the number of upstream fragments delivered to the sink.
	Fragments int
	// Failure is set when the stream ended with a classified error fragment.
	Failure *classify.Result
	// Disconnected is set when the caller went away before the stream ended.
	Disconnected bool
	// Err is the upstream or sink error that ended the stream, if any.
	Err error
}

// Run relays stream into sink until the stream ends, the upstream fails, or
// the caller disconnects. openErr is the error returned when opening the
// stream; when it is non-nil stream is ignored and only the classified
// fragment is written. Run always closes stream.
func Run(ctx context.Context, stream upstream.Stream, openErr error, sink Sink) Outcome {
	if openErr != nil {
		if ctx.Err() != nil {
			// Open aborted because the caller went away; nobody is left to read a fragment.
			return Outcome{Disconnected: true, Err: openErr}
		}
		return fail(sink, openErr, Outcome{})
	}
	defer stream.Close()

	var out Outcome
	for {
		if err := ctx.Err(); err != nil {
			out.Disconnected = true
			out.Err = err
			return out
		}

		frag, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			if ctx.Err() != nil {
				// Upstream read aborted because the caller went away.
				out.Disconnected = true
				out.Err = err
				return out
			}
			stream.Close()
			return fail(sink, err, out)
		}
		if frag == "" {
			continue
		}

		if err := sink.Write(frag); err != nil {
			slog.DebugContext(ctx, "caller disconnected mid-stream", "delivered", out.Fragments, "error", err)
			out.Disconnected = true
			out.Err = err
			return out
		}
		out.Fragments++
	}
}

func fail(sink Sink, err error, out Outcome) Outcome {
	res := classify.Classify(err)
	out.Failure = &res
	out.Err = err
	if werr := sink.Write(res.Message); werr != nil {
		out.Disconnected = true
	}
	return out
}
