package entity

import "time"

// Action names a moderation action recorded in the log.
type Action string

const (
	ActionWarn        Action = "warn"
	ActionDelete      Action = "delete"
	ActionRemove      Action = "remove"
	ActionBlacklist   Action = "blacklist"
	ActionPreban      Action = "preban"
	ActionUnblacklist Action = "unblacklist"
	ActionUncooldown  Action = "uncooldown"
	ActionPromote     Action = "promote"
	ActionDemote      Action = "demote"
	ActionCleanup     Action = "cleanup"
	ActionMOTD        Action = "motd"
)

// Entry is one moderation action. TargetID and MessageID are zero when the
// action has no single target or message.
type Entry struct {
	ID        string    `json:"id" db:"id"`
	Action    Action    `json:"action" db:"action"`
	ActorID   int64     `json:"actor_id" db:"actor_id"`
	TargetID  int64     `json:"target_id,omitempty" db:"target_id"`
	MessageID int64     `json:"message_id,omitempty" db:"message_id"`
	Reason    string    `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"-"`
}
