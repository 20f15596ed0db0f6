package voting

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocdoni/anonvote-node/log"
)

// EventType names the observations emitted by the orchestrator.
type EventType string

const (
	EventProposalCreated EventType = "ProposalCreated"
	EventVoteRecorded    EventType = "VoteRecorded"
	EventProofVerified   EventType = "ProofVerified"
)

const (
	// DefaultEventsHistory is the number of events kept for pull access.
	DefaultEventsHistory = 1024
	// DefaultSubscriberBuffer is the channel buffer of a subscriber.
	DefaultSubscriberBuffer = 64
)

// Event is an observation of a state change. Events never carry voter
// identifying data. OptionIndex is only set for EventVoteRecorded.
type Event struct {
	Seq         uint64    `json:"seq"`
	Type        EventType `json:"type"`
	ProposalID  uint64    `json:"proposalId"`
	OptionIndex *uint64   `json:"optionIndex,omitempty"`
	Time        time.Time `json:"time"`
}

// Events fans out events to subscribers and keeps the most recent ones in a
// ring. Slow subscribers lose events instead of blocking the publisher.
type Events struct {
	mu     sync.RWMutex
	seq    uint64
	ring   []Event
	next   int
	full   bool
	subs   map[uuid.UUID]chan Event
	buffer int
}

// NewEvents creates an event hub that keeps the last history events and
// gives each subscriber a channel with the given buffer.
func NewEvents(history, buffer int) *Events {
	if history <= 0 {
		history = DefaultEventsHistory
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Events{
		ring:   make([]Event, history),
		subs:   make(map[uuid.UUID]chan Event),
		buffer: buffer,
	}
}

// Subscribe returns a channel that receives every event published from now
// on, and the id to unsubscribe it.
func (e *Events) Subscribe() (uuid.UUID, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.New()
	ch := make(chan Event, e.buffer)
	e.subs[id] = ch
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (e *Events) Unsubscribe(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(ch)
	}
}

// Since returns the retained events with a sequence number greater than
// seq, oldest first.
func (e *Events) Since(seq uint64) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Event
	start, n := 0, e.next
	if e.full {
		start, n = e.next, len(e.ring)
	}
	for i := range n {
		ev := e.ring[(start+i)%len(e.ring)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// LastSeq returns the sequence number of the last published event.
func (e *Events) LastSeq() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seq
}

func (e *Events) publish(typ EventType, proposalID uint64, optionIndex *uint64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	ev := Event{
		Seq:         e.seq,
		Type:        typ,
		ProposalID:  proposalID,
		OptionIndex: optionIndex,
		Time:        now,
	}
	e.ring[e.next] = ev
	e.next = (e.next + 1) % len(e.ring)
	if e.next == 0 {
		e.full = true
	}
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			log.Warnw("dropping event for slow subscriber", "subscriber", id.String(), "seq", ev.Seq)
		}
	}
}
