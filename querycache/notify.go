package querycache

import "sync"

// EventType classifies a cache event.
type EventType string

// Cache event types
const (
	EventAdded           EventType = "added"
	EventRemoved         EventType = "removed"
	EventUpdated         EventType = "updated"
	EventObserverAdded   EventType = "observerAdded"
	EventObserverRemoved EventType = "observerRemoved"
)

// Event describes one change to the query or mutation cache. Exactly one of
// Query and Mutation is set. Action names the state transition for updates.
type Event struct {
	Type     EventType
	Action   string
	Query    *Query
	Mutation *Mutation
}

// Listener receives a batch of events.
type Listener func(events []Event)

// notifier batches events and delivers them to listeners one batch at a time.
// Events raised while a batch scope is open are held until the outermost
// scope closes. Only one goroutine delivers at a time, so listeners never run
// concurrently and see batches in order. Events raised from inside a listener
// are queued and delivered after it returns.
type notifier struct {
	mu         sync.Mutex
	depth      int
	queue      []Event
	pending    [][]Event
	delivering bool
	nextID     int
	listeners  map[int]Listener
	order      []int
}

func newNotifier() *notifier {
	return &notifier{listeners: make(map[int]Listener)}
}

func (n *notifier) subscribe(fn Listener) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	n.order = append(n.order, id)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			for i, v := range n.order {
				if v == id {
					n.order = append(n.order[:i], n.order[i+1:]...)
					break
				}
			}
			n.mu.Unlock()
		})
	}
}

func (n *notifier) batch(fn func()) {
	n.mu.Lock()
	n.depth++
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.depth--
		var events []Event
		if n.depth == 0 && len(n.queue) > 0 {
			events = n.queue
			n.queue = nil
		}
		n.mu.Unlock()
		if events != nil {
			n.deliver(events)
		}
	}()

	fn()
}

func (n *notifier) notify(e Event) {
	n.mu.Lock()
	if n.depth > 0 {
		n.queue = append(n.queue, e)
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	n.deliver([]Event{e})
}

func (n *notifier) deliver(events []Event) {
	n.mu.Lock()
	n.pending = append(n.pending, events)
	if n.delivering {
		n.mu.Unlock()
		return
	}
	n.delivering = true

	for len(n.pending) > 0 {
		next := n.pending[0]
		n.pending = n.pending[1:]
		listeners := make([]Listener, 0, len(n.order))
		for _, id := range n.order {
			listeners = append(listeners, n.listeners[id])
		}
		n.mu.Unlock()

		for _, l := range listeners {
			l(next)
		}

		n.mu.Lock()
	}

	n.delivering = false
	n.mu.Unlock()
}
