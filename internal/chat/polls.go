package chat

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	MinPollOptions = 2
	MaxPollOptions = 6
)

var (
	// ErrInvalidPoll reports a poll without a question or enough options.
	ErrInvalidPoll = errors.New("a poll needs a question and at least 2 options")
	// ErrInvalidVote reports a vote on an unknown poll or option.
	ErrInvalidVote = errors.New("poll vote was invalid")
)

// PollOption is one choice of a Poll and its current tally.
type PollOption struct {
	Index  int    `json:"index"`
	Option string `json:"option"`
	Votes  int    `json:"votes"`
}

// Poll is a room-scoped question with a fixed set of options. Each voter
// contributes exactly zero or one vote; a new vote replaces the last one.
type Poll struct {
	ID         string       `json:"id"`
	Room       string       `json:"room"`
	CreatedBy  string       `json:"createdBy"`
	Question   string       `json:"question"`
	Options    []PollOption `json:"options"`
	TotalVotes int          `json:"totalVotes"`
	CreatedAt  time.Time    `json:"-"`

	voters map[string]int
}

// snapshot returns a copy that shares nothing with p and carries no voters.
func (p *Poll) snapshot() *Poll {
	cp := *p
	cp.Options = append([]PollOption(nil), p.Options...)
	cp.voters = nil
	return &cp
}

// Polls holds the active polls of every room.
type Polls struct {
	mu    sync.RWMutex
	rooms map[string]*roomPolls
	now   func() time.Time
}

type roomPolls struct {
	mu    sync.Mutex
	polls map[string]*Poll
	order []string
}

// NewPolls returns an empty poll engine.
func NewPolls() *Polls {
	return &Polls{
		rooms: make(map[string]*roomPolls),
		now:   time.Now,
	}
}

// Create validates and registers a new poll in room. Options are sanitized,
// empty ones are dropped and anything past the sixth is ignored.
func (p *Polls) Create(room, creator, question string, options []string) (*Poll, error) {
	question = Sanitize(question, MaxQuestionLength)
	cleaned := make([]string, 0, MaxPollOptions)
	for _, option := range options {
		if option = Sanitize(option, MaxOptionLength); option == "" {
			continue
		}
		cleaned = append(cleaned, option)
		if len(cleaned) == MaxPollOptions {
			break
		}
	}
	if question == "" || len(cleaned) < MinPollOptions {
		return nil, fmt.Errorf("create poll in %q: %w", room, ErrInvalidPoll)
	}

	now := p.now()
	poll := &Poll{
		ID:        newID(now),
		Room:      room,
		CreatedBy: creator,
		Question:  question,
		Options:   make([]PollOption, len(cleaned)),
		CreatedAt: now,
		voters:    make(map[string]int),
	}
	for i, option := range cleaned {
		poll.Options[i] = PollOption{Index: i, Option: option}
	}

	rp := p.room(room)
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.polls[poll.ID] = poll
	rp.order = append(rp.order, poll.ID)
	return poll.snapshot(), nil
}

// Vote records voterID's choice on pollID, retracting the voter's previous
// choice on the same poll, and returns the updated snapshot.
func (p *Polls) Vote(room, pollID, voterID string, optionIndex int) (*Poll, error) {
	p.mu.RLock()
	rp, ok := p.rooms[room]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vote on %q in %q: %w", pollID, room, ErrInvalidVote)
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	poll, ok := rp.polls[pollID]
	if !ok || optionIndex < 0 || optionIndex >= len(poll.Options) {
		return nil, fmt.Errorf("vote on %q in %q: %w", pollID, room, ErrInvalidVote)
	}

	if previous, voted := poll.voters[voterID]; voted {
		if previous == optionIndex {
			return poll.snapshot(), nil
		}
		if poll.Options[previous].Votes > 0 {
			poll.Options[previous].Votes--
			poll.TotalVotes--
		}
	}
	poll.voters[voterID] = optionIndex
	poll.Options[optionIndex].Votes++
	poll.TotalVotes++
	return poll.snapshot(), nil
}

// Get returns a snapshot of pollID in room.
func (p *Polls) Get(room, pollID string) (*Poll, bool) {
	p.mu.RLock()
	rp, ok := p.rooms[room]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()
	poll, ok := rp.polls[pollID]
	if !ok {
		return nil, false
	}
	return poll.snapshot(), true
}

// VoteOf reports the option voterID currently backs on pollID.
func (p *Polls) VoteOf(room, pollID, voterID string) (int, bool) {
	p.mu.RLock()
	rp, ok := p.rooms[room]
	p.mu.RUnlock()
	if !ok {
		return 0, false
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()
	poll, ok := rp.polls[pollID]
	if !ok {
		return 0, false
	}
	index, ok := poll.voters[voterID]
	return index, ok
}

// List returns snapshots of room's polls in creation order.
func (p *Polls) List(room string) []*Poll {
	p.mu.RLock()
	rp, ok := p.rooms[room]
	p.mu.RUnlock()
	if !ok {
		return nil
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()
	polls := make([]*Poll, 0, len(rp.order))
	for _, id := range rp.order {
		polls = append(polls, rp.polls[id].snapshot())
	}
	return polls
}

// DropRoom forgets every poll of room.
func (p *Polls) DropRoom(room string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, room)
}

func (p *Polls) room(room string) *roomPolls {
	p.mu.RLock()
	rp, ok := p.rooms[room]
	p.mu.RUnlock()
	if ok {
		return rp
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if rp, ok = p.rooms[room]; !ok {
		rp = &roomPolls{polls: make(map[string]*Poll)}
		p.rooms[room] = rp
	}
	return rp
}
