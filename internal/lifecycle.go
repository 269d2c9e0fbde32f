package internal

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// LifecycleEvent is a host visibility change.
type LifecycleEvent string

const (
	PageHidden  LifecycleEvent = "hidden"
	PageVisible LifecycleEvent = "visible"
	PageUnload  LifecycleEvent = "unload"
)

// LifecycleObserver receives lifecycle events.
type LifecycleObserver interface {
	OnLifecycle(event LifecycleEvent)
}

// LifecycleSource delivers lifecycle events to registered observers.
type LifecycleSource interface {
	Register(obs LifecycleObserver) (unregister func())
}

// LifecycleHub fans events out to observers in registration order. Emit is
// safe to call from any goroutine.
type LifecycleHub struct {
	mu        sync.Mutex
	next      int
	observers []registeredObserver
}

type registeredObserver struct {
	id  int
	obs LifecycleObserver
}

func NewLifecycleHub() *LifecycleHub {
	return &LifecycleHub{}
}

func (h *LifecycleHub) Register(obs LifecycleObserver) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.observers = append(h.observers, registeredObserver{id: id, obs: obs})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, r := range h.observers {
			if r.id == id {
				h.observers = append(h.observers[:i], h.observers[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers event to every observer registered at the time of the call.
func (h *LifecycleHub) Emit(event LifecycleEvent) {
	h.mu.Lock()
	observers := make([]LifecycleObserver, len(h.observers))
	for i, r := range h.observers {
		observers[i] = r.obs
	}
	h.mu.Unlock()

	for _, obs := range observers {
		obs.OnLifecycle(event)
	}
}

// LifecycleFunc adapts a function to LifecycleObserver.
type LifecycleFunc func(LifecycleEvent)

func (f LifecycleFunc) OnLifecycle(event LifecycleEvent) { f(event) }

// SignalLifecycle maps process signals onto lifecycle events for the terminal
// cook screen: SIGHUP and SIGUSR1 mean hidden, SIGINT and SIGTERM mean unload.
type SignalLifecycle struct {
	*LifecycleHub

	sigCh    chan os.Signal
	done     chan struct{}
	stopOnce sync.Once
}

// NewSignalLifecycle starts listening for signals until Stop is called.
func NewSignalLifecycle() *SignalLifecycle {
	s := &SignalLifecycle{
		LifecycleHub: NewLifecycleHub(),
		sigCh:        make(chan os.Signal, 4),
		done:         make(chan struct{}),
	}
	signal.Notify(s.sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	go s.loop()
	return s
}

func (s *SignalLifecycle) loop() {
	for {
		select {
		case sig := <-s.sigCh:
			event := lifecycleForSignal(sig)
			LogDebug("Signal %v -> lifecycle %s", sig, event)
			s.Emit(event)
		case <-s.done:
			return
		}
	}
}

// Stop releases the signal handlers.
func (s *SignalLifecycle) Stop() {
	s.stopOnce.Do(func() {
		signal.Stop(s.sigCh)
		close(s.done)
	})
}

func lifecycleForSignal(sig os.Signal) LifecycleEvent {
	switch sig {
	case syscall.SIGHUP, syscall.SIGUSR1:
		return PageHidden
	default:
		return PageUnload
	}
}
