package events

import "sync"

// Recorder buffers emitted events until the owner flushes or drops them. The
// node uses one per transaction so that a reverted transaction emits nothing.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(evt Event) {
	if evt == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Mark returns the current buffer length so a failed nested scope can drop
// only what it emitted.
func (r *Recorder) Mark() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Truncate drops every event recorded after mark.
func (r *Recorder) Truncate(mark int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mark >= 0 && mark < len(r.events) {
		r.events = r.events[:mark]
	}
}

// Drain returns the buffered events and empties the buffer.
func (r *Recorder) Drain() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// Events returns a copy of the buffered events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Fanout delivers every event to each of its emitters in order.
type Fanout []Emitter

func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
