package shivai

import "sync"

// callbackSet holds the host-registered callbacks behind a mutex so
// registration is safe at any point in the session lifecycle. Invocations
// copy the function pointer out before calling so a handler can
// re-register from inside itself.
type callbackSet struct {
	mu             sync.Mutex
	onMessage      func(Message)
	onConnected    func()
	onDisconnected func(reason string)
	onStateChange  func(State)
	onError        func(message string)
	onStatus       func(text string, state State)
}

func (c *callbackSet) message(m Message) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (c *callbackSet) connected() {
	c.mu.Lock()
	fn := c.onConnected
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *callbackSet) disconnected(reason string) {
	c.mu.Lock()
	fn := c.onDisconnected
	c.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

func (c *callbackSet) state(state State) {
	c.mu.Lock()
	fn := c.onStateChange
	c.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (c *callbackSet) error(message string) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(message)
	}
}

func (c *callbackSet) status(text string, state State) {
	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()
	if fn != nil {
		fn(text, state)
	}
}

// OnMessage registers the canonical message callback.
func (s *Session) OnMessage(fn func(Message)) {
	s.callbacks.mu.Lock()
	s.callbacks.onMessage = fn
	s.callbacks.mu.Unlock()
}

// OnConnected registers the connected callback.
func (s *Session) OnConnected(fn func()) {
	s.callbacks.mu.Lock()
	s.callbacks.onConnected = fn
	s.callbacks.mu.Unlock()
}

// OnDisconnected registers the disconnected callback.
func (s *Session) OnDisconnected(fn func(reason string)) {
	s.callbacks.mu.Lock()
	s.callbacks.onDisconnected = fn
	s.callbacks.mu.Unlock()
}

// OnStateChange registers the connection-state callback.
func (s *Session) OnStateChange(fn func(State)) {
	s.callbacks.mu.Lock()
	s.callbacks.onStateChange = fn
	s.callbacks.mu.Unlock()
}

// OnError registers the error callback.
func (s *Session) OnError(fn func(message string)) {
	s.callbacks.mu.Lock()
	s.callbacks.onError = fn
	s.callbacks.mu.Unlock()
}

// OnStatus registers the human-readable status callback.
func (s *Session) OnStatus(fn func(text string, state State)) {
	s.callbacks.mu.Lock()
	s.callbacks.onStatus = fn
	s.callbacks.mu.Unlock()
}
