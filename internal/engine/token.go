package engine

import "sync"

// token is the cooperative cancellation/pause handle for one running
// execution. The engine checks it between capability steps; neither cancel
// nor pause preempts an in-flight call.
type token struct {
	mu        sync.Mutex
	cancelled bool
	paused    bool
}

func (t *token) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

func (t *token) requestPause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

func (t *token) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *token) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// register tracks a new running execution and enforces the one-RUNNING-
// execution-per-task invariant in-process.
func (e *Engine) register(taskID, execID string) (*token, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, busy := e.byTask[taskID]; busy {
		return nil, ErrTaskBusy
	}

	tok := &token{}
	e.active[execID] = tok
	e.byTask[taskID] = execID
	return tok, nil
}

func (e *Engine) unregister(taskID, execID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, execID)
	if e.byTask[taskID] == execID {
		delete(e.byTask, taskID)
	}
}

func (e *Engine) tokenFor(execID string) *token {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[execID]
}
