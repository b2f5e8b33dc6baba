package events

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"factorchain/core/types"
	"factorchain/observability"
)

const streamHistoryLimit = 2048

// Record is a committed event tagged with its position in the stream.
type Record struct {
	Sequence uint64
	Cursor   string
	Event    *types.Event
}

func (r Record) clone() Record {
	r.Event = r.Event.Clone()
	return r
}

// Stream fans committed events out to live subscribers and keeps a bounded
// history so late subscribers can resume from a cursor.
type Stream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	dropped uint64
	subs    map[uint64]chan Record
	history []Record
}

// NewStream constructs an empty stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[uint64]chan Record)}
}

// Emit implements Emitter. Only *types.Event payloads are published.
func (s *Stream) Emit(evt Event) {
	typed, ok := evt.(*types.Event)
	if s == nil || !ok || typed == nil {
		return
	}
	s.mu.Lock()
	s.seq++
	record := Record{
		Sequence: s.seq,
		Cursor:   strconv.FormatUint(s.seq, 10),
		Event:    typed.Clone(),
	}
	s.history = append(s.history, record)
	if len(s.history) > streamHistoryLimit {
		excess := len(s.history) - streamHistoryLimit
		trimmed := make([]Record, streamHistoryLimit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	// Sends never block, so they run under the lock that cancel takes
	// before closing a channel.
	for _, ch := range s.subs {
		select {
		case ch <- record.clone():
		default:
			s.dropped++
			observability.Events().RecordDropped(typed.Type)
		}
	}
	s.mu.Unlock()
}

// Dropped reports how many deliveries were skipped because a subscriber's
// buffer was full. Subscribers detect the gap from Record.Sequence and can
// resume from their last cursor.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Sequence returns the sequence number of the last published event.
func (s *Stream) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Subscribe registers a subscriber for events published after cursor. The
// backlog holds retained events newer than the cursor. Slow subscribers drop
// events rather than block publishers.
func (s *Stream) Subscribe(ctx context.Context, cursor string) (<-chan Record, func(), []Record) {
	updates := make(chan Record, 64)

	var since uint64
	replay := false
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
			replay = true
		}
	}

	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[uint64]chan Record)
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]Record, 0)
	if replay {
		for _, entry := range s.history {
			if entry.Sequence > since {
				backlog = append(backlog, entry.clone())
			}
		}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			sub, ok := s.subs[id]
			if ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog
}

// Fanout forwards each event to every non-nil emitter in order.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(evt Event) {
	for _, dst := range f {
		if dst != nil {
			dst.Emit(evt)
		}
	}
}
