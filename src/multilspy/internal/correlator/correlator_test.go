package correlator

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/goleak"

	"github.com/jaredhancock31/multilspy/src/multilspy/internal/errors"
	"github.com/jaredhancock31/multilspy/src/multilspy/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSender captures every message written to the wire.
type recordingSender struct {
	mu       sync.Mutex
	messages []interface{}
	err      error
}

func (s *recordingSender) Write(msg interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSender) notifications(method string) []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Notification
	for _, m := range s.messages {
		if n, ok := m.(model.Notification); ok && n.Method == method {
			out = append(out, n)
		}
	}
	return out
}

func TestSendAssignsUniqueIDs(t *testing.T) {
	sender := &recordingSender{}
	c := New(sender)

	seen := make(map[int64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.Send("textDocument/definition", nil)
			require.NoError(t, err)
			mu.Lock()
			assert.False(t, seen[p.ID()], "id %d issued twice", p.ID())
			seen[p.ID()] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, c.PendingCount())
	c.FailAll(errors.ErrConnClosed)
}

func TestCallResolvesResult(t *testing.T) {
	sender := &recordingSender{}
	c := New(sender)

	go func() {
		// Wait for the request to land, then answer it.
		for {
			sender.mu.Lock()
			n := len(sender.messages)
			sender.mu.Unlock()
			if n > 0 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		sender.mu.Lock()
		req := sender.messages[0].(model.Request)
		sender.mu.Unlock()
		c.Resolve(strconv.FormatInt(req.ID, 10), json.RawMessage(`{"value":42}`), nil)
	}()

	var result struct {
		Value int `json:"value"`
	}
	err := c.Call(context.Background(), "engine/ping", nil, &result, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, result.Value)
	assert.Zero(t, c.PendingCount())
}

func TestCallReturnsProtocolError(t *testing.T) {
	sender := &recordingSender{}
	c := New(sender)

	p, err := c.Send("initialize", nil)
	require.NoError(t, err)

	rpcErr := jsonrpc2.NewError(jsonrpc2.Code(-32001), "unsupported")
	c.Resolve(strconv.FormatInt(p.ID(), 10), nil, rpcErr)

	out := <-p.Outcome()
	require.Error(t, out.Err)
	var got *jsonrpc2.Error
	require.ErrorAs(t, out.Err, &got)
	assert.Equal(t, "unsupported", got.Message)
}

func TestResolveUnknownIDIsDiscarded(t *testing.T) {
	sender := &recordingSender{}
	scope := tally.NewTestScope("", nil)
	c := New(sender, WithScope(scope))

	assert.NotPanics(t, func() {
		c.Resolve("9999", json.RawMessage(`{}`), nil)
	})

	counters := scope.Snapshot().Counters()
	require.Contains(t, counters, "responses_unknown_id+")
	assert.Equal(t, int64(1), counters["responses_unknown_id+"].Value())
}

func TestCallTimeoutSendsCancellationOnce(t *testing.T) {
	sender := &recordingSender{}
	c := New(sender)

	err := c.Call(context.Background(), "textDocument/definition", nil, nil, 50*time.Millisecond)
	require.Error(t, err)

	var timeoutErr *errors.RequestTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "textDocument/definition", timeoutErr.Method)

	cancels := sender.notifications("$/cancelRequest")
	require.Len(t, cancels, 1)
	assert.Equal(t, model.CancelParams{ID: 1}, cancels[0].Params)
	assert.Zero(t, c.PendingCount())
}

func TestCallCallerCancellation(t *testing.T) {
	sender := &recordingSender{}
	c := New(sender)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := c.Call(ctx, "textDocument/hover", nil, nil, time.Minute)
	var cancelled *errors.RequestCancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Len(t, sender.notifications("$/cancelRequest"), 1)
}

func TestCancelPendingFuture(t *testing.T) {
	sender := &recordingSender{}
	c := New(sender)

	p, err := c.Send("textDocument/references", nil)
	require.NoError(t, err)

	c.Cancel(p)

	out := <-p.Outcome()
	var cancelled *errors.RequestCancelledError
	require.ErrorAs(t, out.Err, &cancelled)

	// A late response to the cancelled id goes down the unknown-id path.
	assert.NotPanics(t, func() {
		c.Resolve(strconv.FormatInt(p.ID(), 10), json.RawMessage(`[]`), nil)
	})
}

func TestResolveAtMostOnce(t *testing.T) {
	sender := &recordingSender{}
	c := New(sender)

	p, err := c.Send("engine/ping", nil)
	require.NoError(t, err)

	key := strconv.FormatInt(p.ID(), 10)
	c.Resolve(key, json.RawMessage(`1`), nil)
	c.Resolve(key, json.RawMessage(`2`), nil)

	out := <-p.Outcome()
	assert.Equal(t, json.RawMessage(`1`), out.Result)
	select {
	case extra := <-p.Outcome():
		t.Fatalf("second resolution delivered: %+v", extra)
	default:
	}
}

func TestFailAllRejectsPendingAndNewTraffic(t *testing.T) {
	sender := &recordingSender{}
	c := New(sender)

	first, err := c.Send("a", nil)
	require.NoError(t, err)
	second, err := c.Send("b", nil)
	require.NoError(t, err)

	exitErr := &errors.ProcessExitError{ExitCode: 1}
	c.FailAll(exitErr)

	for _, p := range []*Pending{first, second} {
		out := <-p.Outcome()
		assert.ErrorIs(t, out.Err, error(exitErr))
	}

	_, err = c.Send("c", nil)
	assert.ErrorIs(t, err, error(exitErr))
	assert.Error(t, c.Notify("initialized", nil))
}

func TestSendWriteFailureUnregisters(t *testing.T) {
	sender := &recordingSender{err: errors.New("broken pipe")}
	c := New(sender)

	_, err := c.Send("initialize", nil)
	require.Error(t, err)
	assert.Zero(t, c.PendingCount())
}
