package models

// Nomination is a candidate option submitted during the open phase.
type Nomination struct {
	UserID string `json:"userID"`
	Text   string `json:"text"`
}

// Result is one scored row of a closed poll.
type Result struct {
	NominationID   string  `json:"nominationID"`
	NominationText string  `json:"nominationText"`
	Score          float64 `json:"score"`
}

// Poll is the room document stored under polls:{id}.
type Poll struct {
	ID            string                `json:"id"`
	Topic         string                `json:"topic"`
	VotesPerVoter int                   `json:"votesPerVoter"`
	Participants  map[string]string     `json:"participants"` // userID -> display name
	AdminID       string                `json:"adminID"`
	Nominations   map[string]Nomination `json:"nominations"`
	Rankings      map[string][]string   `json:"rankings"` // userID -> nomination IDs
	Results       []Result              `json:"results"`
	HasStarted    bool                  `json:"hasStarted"`
	HasEnded      bool                  `json:"hasEnded"`
}

// NewPoll returns an open poll with empty collections.
func NewPoll(id, topic string, votesPerVoter int, adminID string) *Poll {
	return &Poll{
		ID:            id,
		Topic:         topic,
		VotesPerVoter: votesPerVoter,
		AdminID:       adminID,
		Participants:  make(map[string]string),
		Nominations:   make(map[string]Nomination),
		Rankings:      make(map[string][]string),
		Results:       []Result{},
	}
}

// Normalize replaces nil collections so documents decoded from older or
// hand-written JSON behave like freshly created ones.
func (p *Poll) Normalize() {
	if p.Participants == nil {
		p.Participants = make(map[string]string)
	}
	if p.Nominations == nil {
		p.Nominations = make(map[string]Nomination)
	}
	if p.Rankings == nil {
		p.Rankings = make(map[string][]string)
	}
	if p.Results == nil {
		p.Results = []Result{}
	}
}

// Clone returns a deep copy.
func (p *Poll) Clone() *Poll {
	c := *p
	c.Participants = make(map[string]string, len(p.Participants))
	for k, v := range p.Participants {
		c.Participants[k] = v
	}
	c.Nominations = make(map[string]Nomination, len(p.Nominations))
	for k, v := range p.Nominations {
		c.Nominations[k] = v
	}
	c.Rankings = make(map[string][]string, len(p.Rankings))
	for k, v := range p.Rankings {
		c.Rankings[k] = append([]string(nil), v...)
	}
	c.Results = append([]Result{}, p.Results...)
	return &c
}

// Summary holds values derived from a poll for one viewer. None of these
// are persisted.
type Summary struct {
	IsAdmin          bool `json:"isAdmin"`
	ParticipantCount int  `json:"participantCount"`
	NominationCount  int  `json:"nominationCount"`
	RankingsCount    int  `json:"rankingsCount"`
	CanStartVote     bool `json:"canStartVote"`
	HasVoted         bool `json:"hasVoted"`
}

// Summarize computes the derived view of p for userID.
func Summarize(p *Poll, userID string) Summary {
	_, voted := p.Rankings[userID]
	return Summary{
		IsAdmin:          userID != "" && p.AdminID == userID,
		ParticipantCount: len(p.Participants),
		NominationCount:  len(p.Nominations),
		RankingsCount:    len(p.Rankings),
		CanStartVote:     len(p.Nominations) >= p.VotesPerVoter,
		HasVoted:         voted,
	}
}
