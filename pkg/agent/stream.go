package agent

import (
	"context"
	"sync"

	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/model"
	"github.com/nstogner/tiered/pkg/tier"
)

// Stream is a single-consumer sequence of turn events. It ends with exactly
// one done or error event unless it is closed first.
type Stream struct {
	events chan domain.StreamEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Events returns the event channel. It is closed after the final event.
func (st *Stream) Events() <-chan domain.StreamEvent { return st.events }

// Close cancels the turn and waits for it to stop. It is safe to call
// more than once and after the stream has finished.
func (st *Stream) Close() {
	st.once.Do(func() {
		st.cancel()
		<-st.done
	})
}

// ExecuteStream runs one turn, emitting thinking and answer fragments as they
// arrive. Tool calls requested by the model run between rounds and are
// reported as tool events. Usage is attached to the done event and is not
// accounted; callers reconcile it with Reconcile. Quota errors are retried
// only until the first event has been emitted.
func (e *Executor) ExecuteStream(ctx context.Context, s *Session, req TurnRequest) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	st := &Stream{
		events: make(chan domain.StreamEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	spec := e.reg.Lookup(s.TierKey)
	t := newTurn(s.ID, req.RequestID, spec.Key)

	go func() {
		defer close(st.done)
		defer close(st.events)
		defer cancel()

		seq := 0
		emit := func(ev domain.StreamEvent) bool {
			seq++
			ev.Sequence = seq
			ev.TierKey = spec.Key
			select {
			case st.events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		usage, err := e.stream(ctx, t, s, spec, req, emit)
		if err != nil {
			t.to(StateFailed)
			if ctx.Err() != nil {
				t.log.Debug("Stream cancelled")
				return
			}
			t.log.Error("Stream failed", "attempts", t.attempts, "error", err)
			emit(domain.StreamEvent{Kind: domain.EventError, Error: err.Error()})
			return
		}
		t.to(StateCompleted)
		emit(domain.StreamEvent{Kind: domain.EventDone, Usage: &usage})
	}()
	return st
}

func (e *Executor) stream(ctx context.Context, t *turn, s *Session, spec tier.Spec, req TurnRequest, emit func(domain.StreamEvent) bool) (domain.TokenUsage, error) {
	var usage domain.TokenUsage
	conn, err := e.ensureConn(ctx, s, spec)
	if err != nil {
		return usage, err
	}

	t.to(StateConfiguring)
	// Streamed fragments are rendered as they arrive, so the reply is
	// always free text.
	cfg := e.configFor(spec, s, false)

	t.to(StateSending)
	msgs := append(append([]model.Message(nil), s.History...), userMessage(req.Message))

	t.to(StateStreaming)
	emitted := false
	policy := e.retry
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsQuotaExhausted
	}
	policy.Retryable = func(err error) bool { return !emitted && retryable(err) }

	calls := 0
	for {
		var parts []model.Part
		var last *model.Usage
		n, err := policy.Do(ctx, func(ctx context.Context) error {
			if err := e.wait(ctx, spec.Key); err != nil {
				return err
			}
			parts, last = parts[:0], nil
			for chunk, err := range conn.Stream(ctx, msgs, cfg) {
				if err != nil {
					return err
				}
				for _, p := range chunk.Parts {
					parts = append(parts, p)
					if p.Text == "" || p.FunctionCall != nil || p.FunctionResponse != nil {
						continue
					}
					kind := domain.EventAnswer
					if p.Thought {
						kind = domain.EventThinking
					}
					if !emit(domain.StreamEvent{Kind: kind, Text: p.Text}) {
						return ctx.Err()
					}
					emitted = true
				}
				if chunk.Usage != nil {
					last = chunk.Usage
				}
			}
			return nil
		})
		t.attempts += n
		if err != nil {
			return usage, err
		}
		addUsage(&usage, last)

		reply := &model.Response{Parts: mergeParts(parts)}
		msgs = append(msgs, model.Message{Role: domain.RoleAssistant, Parts: reply.Parts})
		fcs := reply.FunctionCalls()
		if len(fcs) == 0 {
			break
		}
		if err := e.checkToolLimit(calls, fcs); err != nil {
			return usage, err
		}
		toolParts, recs := e.invokeTools(ctx, s, fcs)
		for i := range recs {
			if !emit(domain.StreamEvent{Kind: domain.EventTool, Tool: &recs[i]}) {
				return usage, ctx.Err()
			}
		}
		msgs = append(msgs, model.Message{Role: domain.RoleTool, Parts: toolParts})
		calls += len(fcs)
		if calls >= e.maxToolCalls && cfg.Tools != nil {
			cfg = withoutTools(cfg)
		}
	}

	s.History = msgs
	return usage, nil
}

// mergeParts joins adjacent text fragments of the same kind so the history
// holds one part per contiguous answer or thought.
func mergeParts(parts []model.Part) []model.Part {
	var out []model.Part
	for _, p := range parts {
		isText := p.FunctionCall == nil && p.FunctionResponse == nil && p.Media == nil
		if n := len(out); isText && n > 0 {
			prev := &out[n-1]
			prevText := prev.FunctionCall == nil && prev.FunctionResponse == nil && prev.Media == nil
			if prevText && prev.Thought == p.Thought {
				prev.Text += p.Text
				if len(p.ThoughtSignature) > 0 {
					prev.ThoughtSignature = p.ThoughtSignature
				}
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
