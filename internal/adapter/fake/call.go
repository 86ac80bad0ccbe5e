package fake

import "sync"

// Call is one recorded invocation on a fake runtime or runner.
type Call struct {
	Method string
	Args   []any
}

// CallRecorder collects every invocation a fake receives so tests can assert
// on what the code under test asked the runtime to do. Embedded by the fakes
// in this package; safe for the concurrent calls a provisioning run makes.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *CallRecorder) record(method string, args ...any) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
	r.mu.Unlock()
}

// Calls returns the recorded invocations of method, in order.
func (r *CallRecorder) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Call
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// CallCount reports how often method was invoked.
func (r *CallRecorder) CallCount(method string) int {
	return len(r.Calls(method))
}
