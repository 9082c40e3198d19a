package pushconsent

import (
	"context"
	"errors"
	"sync"
)

type memSession struct {
	mu    sync.Mutex
	state SessionState
	err   error // returned from every setter when set

	// keepOnErr applies writes in memory even when err is set, as
	// session.Store does when its backend fails.
	keepOnErr bool
}

func newMemSession() *memSession {
	return &memSession{state: FreshSessionState("install-1")}
}

func (s *memSession) ConsentState() ConsentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Consent
}

func (s *memSession) SetConsentState(c ConsentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && !s.keepOnErr {
		return s.err
	}
	s.state.Consent = c
	return s.err
}

func (s *memSession) DeviceToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DeviceToken, s.state.HasDeviceToken
}

func (s *memSession) SetDeviceToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && !s.keepOnErr {
		return s.err
	}
	s.state.DeviceToken = token
	s.state.HasDeviceToken = true
	return s.err
}

func (s *memSession) RegistrationSucceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RegistrationSucceeded
}

func (s *memSession) SetRegistrationSucceeded(b bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && !s.keepOnErr {
		return s.err
	}
	s.state.RegistrationSucceeded = b
	return s.err
}

func (s *memSession) OptRequestSucceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.OptRequestSucceeded
}

func (s *memSession) SetOptRequestSucceeded(b bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && !s.keepOnErr {
		return s.err
	}
	s.state.OptRequestSucceeded = b
	return s.err
}

func (s *memSession) PriorRegistrationArtifact() Tristate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.PriorRegistrationArtifact
}

func (s *memSession) SetPriorRegistrationArtifact(t Tristate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && !s.keepOnErr {
		return s.err
	}
	s.state.PriorRegistrationArtifact = t
	return s.err
}

// fakeRegistrar records every command in call order. Unregister completions
// are released by the test through release().
type fakeRegistrar struct {
	mu          sync.Mutex
	calls       []string
	registerErr error
	optErr      error

	autoComplete bool
	pending      map[string]chan error
	aborted      int
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{autoComplete: true, pending: map[string]chan error{}}
}

func (f *fakeRegistrar) Register(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "register:"+token)
	return f.registerErr
}

// Unregister completes when released, or with ctx.Err() once ctx is done, as
// an HTTP call bound to ctx would.
func (f *fakeRegistrar) Unregister(ctx context.Context, token string) <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "unregister:"+token)
	ch := make(chan error, 1)
	if f.autoComplete {
		ch <- nil
		close(ch)
		return ch
	}
	f.pending[token] = ch

	done := make(chan error, 1)
	go func() {
		defer close(done)
		select {
		case err := <-ch:
			done <- err
		case <-ctx.Done():
			f.mu.Lock()
			f.aborted++
			f.mu.Unlock()
			done <- ctx.Err()
		}
	}()
	return done
}

func (f *fakeRegistrar) Aborted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

func (f *fakeRegistrar) OptIn(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "optIn")
	return f.optErr
}

func (f *fakeRegistrar) OptOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "optOut")
	return f.optErr
}

// release completes the pending unregister for token with err.
func (f *fakeRegistrar) release(token string, err error) {
	f.mu.Lock()
	ch := f.pending[token]
	delete(f.pending, token)
	f.mu.Unlock()
	if ch == nil {
		panic("no pending unregister for " + token)
	}
	ch <- err
	close(ch)
}

func (f *fakeRegistrar) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRegistrar) count(name string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

type recordingReporter struct {
	mu     sync.Mutex
	events []EventKind
}

func (r *recordingReporter) Report(_ context.Context, kind EventKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func (r *recordingReporter) Events() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	copy(out, r.events)
	return out
}

var errBackend = errors.New("backend unavailable")
