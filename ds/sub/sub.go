package sub

// Subscription is the receiving half handed to a subscriber. ErrorC closes
// the stream: a nil error means the hub shut the subscription down cleanly.
type Subscription[T any] struct {
	id      int
	deleteC chan<- int
	StreamC <-chan T
	ErrorC  <-chan error
}

func (s Subscription[T]) Id() int {
	return s.id
}

func (s Subscription[T]) Unsubscribe() {
	select {
	case s.deleteC <- s.id:
	default:
	}
}

type innerSubscription[T any] struct {
	id      int
	streamC chan T
	errorC  chan error
	filter  func(T) bool
	dropped uint64
}

// SubHome fans events out to subscribers. Broadcast never blocks: a
// subscriber that cannot keep up has events dropped and counted rather than
// stalling the sender hot path. Not safe for concurrent use; owned by a
// single agent loop.
type SubHome[T any] struct {
	id      int
	subs    map[int]*innerSubscription[T]
	DeleteC chan int
}

func CreateSubHome[T any]() *SubHome[T] {
	return &SubHome[T]{
		id:      0,
		subs:    make(map[int]*innerSubscription[T]),
		DeleteC: make(chan int, 10),
	}
}

func (sh *SubHome[T]) SubscriberCount() int {
	return len(sh.subs)
}

// Subscribe registers a new subscriber. A nil filter receives everything.
func (sh *SubHome[T]) Subscribe(filter func(T) bool) Subscription[T] {
	id := sh.id
	sh.id++
	streamC := make(chan T, 16)
	errorC := make(chan error, 1)
	sh.subs[id] = &innerSubscription[T]{
		id:      id,
		streamC: streamC,
		errorC:  errorC,
		filter:  filter,
	}
	return Subscription[T]{
		id:      id,
		deleteC: sh.DeleteC,
		StreamC: streamC,
		ErrorC:  errorC,
	}
}

func (sh *SubHome[T]) Broadcast(value T) {
	for _, v := range sh.subs {
		if v.filter != nil && !v.filter(value) {
			continue
		}
		select {
		case v.streamC <- value:
		default:
			v.dropped++
		}
	}
}

// Dropped returns how many events a subscriber has missed.
func (sh *SubHome[T]) Dropped(id int) uint64 {
	p, present := sh.subs[id]
	if !present {
		return 0
	}
	return p.dropped
}

func (sh *SubHome[T]) Delete(id int) {
	p, present := sh.subs[id]
	if present {
		p.errorC <- nil
		delete(sh.subs, id)
	}
}

// Close terminates all subscriptions.
func (sh *SubHome[T]) Close() {
	for _, v := range sh.subs {
		v.errorC <- nil
	}
	sh.subs = make(map[int]*innerSubscription[T])
}
