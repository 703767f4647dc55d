package behaviors

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/roach88/statenet/internal/fsm"
)

func registerBuiltins(r *Registry) {
	r.Register("noop", noParams(func(n *fsm.Node, ev *fsm.Event) {}))
	r.Register("complete", noParams(func(n *fsm.Node, ev *fsm.Event) { n.PostCompletion() }))
	r.Register("parent_completes", noParams(parentCompletes))
	r.Register("parent_succeeds", noParams(parentSucceeds))
	r.Register("parent_fails", noParams(parentFails))
	r.Register("print", newPrint(r.out))
	r.Register("succeed", newSucceed)
	r.Register("fail", newFail)
	r.Register("emit", newEmit)
	r.Register("wait", newWait)
	r.Register("iterate", newIterate)
}

// noParams wraps a stateless behavior whose factory accepts no params.
func noParams(fn fsm.BehaviorFunc) Factory {
	return func(params map[string]any) (fsm.Behavior, error) {
		if err := Decode(params, &struct{}{}); err != nil {
			return nil, err
		}
		return fn, nil
	}
}

func parentCompletes(n *fsm.Node, _ *fsm.Event) {
	if p := n.Parent(); p != nil {
		p.PostCompletion()
	}
}

func parentSucceeds(n *fsm.Node, _ *fsm.Event) {
	if p := n.Parent(); p != nil {
		p.PostSuccess(nil)
	}
}

func parentFails(n *fsm.Node, _ *fsm.Event) {
	if p := n.Parent(); p != nil {
		p.PostFailure(nil)
	}
}

// newPrint writes text, or the node path when text is empty, then completes.
func newPrint(out io.Writer) Factory {
	return func(params map[string]any) (fsm.Behavior, error) {
		var cfg struct {
			Text string `mapstructure:"text"`
		}
		if err := Decode(params, &cfg); err != nil {
			return nil, err
		}
		return fsm.BehaviorFunc(func(n *fsm.Node, _ *fsm.Event) {
			text := cfg.Text
			if text == "" {
				text = n.Path()
			}
			if _, err := fmt.Fprintln(out, text); err != nil {
				n.Logger().Warn("print failed", "error", err)
			}
			n.PostCompletion()
		}), nil
	}
}

type detailsParams struct {
	Details any `mapstructure:"details"`
}

func newSucceed(params map[string]any) (fsm.Behavior, error) {
	var cfg detailsParams
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	return fsm.BehaviorFunc(func(n *fsm.Node, _ *fsm.Event) {
		n.PostSuccess(cfg.Details)
	}), nil
}

func newFail(params map[string]any) (fsm.Behavior, error) {
	var cfg detailsParams
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	return fsm.BehaviorFunc(func(n *fsm.Node, _ *fsm.Event) {
		n.PostFailure(cfg.Details)
	}), nil
}

func newEmit(params map[string]any) (fsm.Behavior, error) {
	var cfg struct {
		Data any `mapstructure:"data"`
	}
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Data == nil {
		return nil, errors.New("emit needs data")
	}
	return fsm.BehaviorFunc(func(n *fsm.Node, _ *fsm.Event) {
		n.PostData(cfg.Data)
	}), nil
}

// newWait completes the node once duration has passed. The timer belongs
// to the node, so stopping the node early cancels it.
func newWait(params map[string]any) (fsm.Behavior, error) {
	var cfg struct {
		Duration time.Duration `mapstructure:"duration"`
	}
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Duration < 0 {
		return nil, fmt.Errorf("wait duration %s is negative", cfg.Duration)
	}
	return fsm.BehaviorFunc(func(n *fsm.Node, _ *fsm.Event) {
		n.After(cfg.Duration, n.PostCompletion)
	}), nil
}

// MaxIterateCount bounds the count iterate accepts, from its params or
// from a numeric data payload. Larger payloads are ignored.
const MaxIterateCount = 1 << 16

// iterate posts the next item as a data event on every start and
// completes once the items run out.
type iterate struct {
	items  []any
	cursor int
}

func newIterate(params map[string]any) (fsm.Behavior, error) {
	var cfg struct {
		Items []any `mapstructure:"items"`
		Count int   `mapstructure:"count"`
	}
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Items) > 0 && cfg.Count > 0 {
		return nil, errors.New("iterate takes items or count, not both")
	}
	if cfg.Count < 0 {
		return nil, fmt.Errorf("iterate count %d is negative", cfg.Count)
	}
	if cfg.Count > MaxIterateCount {
		return nil, fmt.Errorf("iterate count %d exceeds %d", cfg.Count, MaxIterateCount)
	}

	it := &iterate{items: cfg.Items}
	if cfg.Count > 0 {
		it.items = countTo(cfg.Count)
	}
	return it, nil
}

func (it *iterate) Start(n *fsm.Node, ev *fsm.Event) {
	// Data handed in by another node replaces the items.
	if ev != nil && ev.Kind() == fsm.KindData && ev.Source() != n {
		if items, ok := asItems(ev.Payload()); ok {
			it.items = items
			it.cursor = 0
		}
	}

	if it.cursor >= len(it.items) {
		it.cursor = 0
		n.PostCompletion()
		return
	}
	v := it.items[it.cursor]
	it.cursor++
	n.PostData(v)
}

func asItems(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case int:
		return countItems(int64(x))
	case int64:
		return countItems(x)
	case float64:
		if x >= 0 && x <= MaxIterateCount && x == math.Trunc(x) {
			return countItems(int64(x))
		}
	}
	return nil, false
}

// countItems returns 0..n-1, or false when n is outside [0, MaxIterateCount].
func countItems(n int64) ([]any, bool) {
	if n < 0 || n > MaxIterateCount {
		return nil, false
	}
	return countTo(int(n)), true
}

func countTo(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i
	}
	return out
}
