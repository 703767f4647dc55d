package stimulus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/statenet/internal/engine"
	"github.com/roach88/statenet/internal/ir"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// doorSpec completes once a "knock" text arrives or the ball is tapped.
func doorSpec() *ir.GraphSpec {
	return &ir.GraphSpec{
		Name: "door",
		Nodes: []ir.NodeSpec{
			{Name: "main"},
			{Name: "closed", Parent: "main"},
			{Name: "open", Parent: "main", Behavior: "parent_completes"},
			{Name: "kicked", Parent: "main", Behavior: "parent_fails"},
		},
		Transitions: []ir.TransitionSpec{
			{Name: "knock", Kind: "text", From: []string{"closed"}, To: []string{"open"}, Match: "knock"},
			{Name: "kick", Kind: "tap", From: []string{"closed"}, To: []string{"kicked"}, Match: "ball"},
		},
	}
}

type result struct {
	outcome engine.Outcome
	err     error
}

// startSession runs doorSpec on a goroutine and returns its session and
// a channel that receives the run's result.
func startSession(t *testing.T) (*engine.Session, <-chan result) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	sess, err := engine.New(doorSpec(), engine.WithLogger(quietLogger())).Prepare(ctx)
	require.NoError(t, err)

	done := make(chan result, 1)
	go func() {
		out, err := sess.Run(ctx)
		done <- result{out, err}
	}()
	return sess, done
}

func waitResult(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
		return result{}
	}
}
