package progression

import "time"

// EventType classifies committed progression changes.
type EventType string

const (
	EventReward    EventType = "reward"    // XP or currency credited
	EventMilestone EventType = "milestone" // one-time bonus fired
	EventLevelUp   EventType = "level_up"  // level or rank increased
	EventEconomy   EventType = "economy"   // consumable bought
)

// Event is published after a commit succeeds. Data holds the operation's
// result value.
type Event struct {
	Type   EventType `json:"type"`
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
	Data   any       `json:"data"`
}

// Publisher receives events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// Observer receives operational measurements from the engine.
type Observer interface {
	SessionCompleted(res *RewardResult)
	Rejected(op, code string)
	Granted(kind Kind, requested, granted int64)
	MilestoneFired(m Milestone)
	Conflict(op string)
	Duration(op string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) SessionCompleted(*RewardResult)       {}
func (nopObserver) Rejected(string, string)              {}
func (nopObserver) Granted(Kind, int64, int64)           {}
func (nopObserver) MilestoneFired(Milestone)             {}
func (nopObserver) Conflict(string)                      {}
func (nopObserver) Duration(string, time.Duration, error) {}
