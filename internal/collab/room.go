package collab

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const sendQueueSize = 256

var palette = [...]string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#9a6324", "#008080", "#800000",
}

// ColorFor picks a stable display color for userID.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Participant is one connection in a room. Only the room writes to Send,
// and the write pump is its only reader.
type Participant struct {
	SessionID  string
	DocumentID string
	UserID     string
	Username   string
	Color      string
	JoinedAt   time.Time

	Send      chan []byte
	closeOnce sync.Once

	// evicted is set when the room drops p for a full queue; departed once
	// Leave has announced p to the room.
	evicted  atomic.Bool
	departed atomic.Bool
}

func (p *Participant) info() ParticipantInfo {
	return ParticipantInfo{
		SessionID: p.SessionID,
		UserID:    p.UserID,
		Username:  p.Username,
		Color:     p.Color,
		JoinedAt:  p.JoinedAt,
	}
}

func (p *Participant) close() {
	p.closeOnce.Do(func() { close(p.Send) })
}

func (p *Participant) evict() {
	p.evicted.Store(true)
	p.close()
}

// Room holds the participants of one document. Broadcasts take the room
// lock, so every member sees events in the order the room accepted them.
type Room struct {
	documentID   string
	mu           sync.Mutex
	participants map[string]*Participant
}

func newRoom(documentID string) *Room {
	return &Room{documentID: documentID, participants: make(map[string]*Participant)}
}

func (r *Room) add(p *Participant) {
	r.mu.Lock()
	r.participants[p.SessionID] = p
	r.mu.Unlock()
}

// remove returns whether p was still a member and whether the room is now empty.
func (r *Room) remove(p *Participant) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.participants[p.SessionID]
	if ok {
		delete(r.participants, p.SessionID)
		p.close()
	}
	return ok, len(r.participants) == 0
}

func (r *Room) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants) == 0
}

// broadcast queues data for every member except excludeSessionID. A member
// whose queue is full is dropped from the room; its connection closes and
// Leave announces it.
func (r *Room) broadcast(data []byte, excludeSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.participants {
		if id == excludeSessionID {
			continue
		}
		select {
		case p.Send <- data:
		default:
			delete(r.participants, id)
			p.evict()
		}
	}
}

// sendTo queues data for a single member; it is a no-op once p has left.
func (r *Room) sendTo(p *Participant, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[p.SessionID]; !ok {
		return
	}
	select {
	case p.Send <- data:
	default:
		delete(r.participants, p.SessionID)
		p.evict()
	}
}

func (r *Room) members() []ParticipantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ParticipantInfo, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func encode(message map[string]any) []byte {
	data, _ := json.Marshal(message)
	return data
}
