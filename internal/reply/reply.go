// Package reply defines the values commands hand back to the event glue.
// Rendering them to text is the glue's job.
package reply

import "fmt"

// Type tags a reply.
type Type int

const (
	Custom Type = iota
	Success
	BooleanConfig

	ChatJoin
	ChatLeave
	UserInChat
	UserNotInChat
	GivenCooldown
	MessageRemoved
	PromotedMod
	PromotedAdmin
	KarmaThankYou
	KarmaNotification
	TripcodeInfo
	TripcodeSet
	AFKTimeout
	CleanupQueued

	ErrCommandDisabled
	ErrNoReply
	ErrNotInCache
	ErrNoUser
	ErrNoUserByID
	ErrAlreadyWarned
	ErrNotInCooldown
	ErrNotBlacklisted
	ErrCooldown
	ErrBlacklisted
	ErrAlreadyUpvoted
	ErrUpvoteOwnMessage
	ErrSpammy
	ErrSpammySign
	ErrSpammyVoice
	ErrInvalidTripFormat
	ErrNoTripcode
	ErrMediaLimit
	ErrInvalidPrebanFormat
	ErrAlreadyBanned

	UserInfo
	UserInfoMod
	UsersInfo
	UsersInfoExtended
)

var typeNames = [...]string{
	Custom:                 "CUSTOM",
	Success:                "SUCCESS",
	BooleanConfig:          "BOOLEAN_CONFIG",
	ChatJoin:               "CHAT_JOIN",
	ChatLeave:              "CHAT_LEAVE",
	UserInChat:             "USER_IN_CHAT",
	UserNotInChat:          "USER_NOT_IN_CHAT",
	GivenCooldown:          "GIVEN_COOLDOWN",
	MessageRemoved:         "MESSAGE_REMOVED",
	PromotedMod:            "PROMOTED_MOD",
	PromotedAdmin:          "PROMOTED_ADMIN",
	KarmaThankYou:          "KARMA_THANK_YOU",
	KarmaNotification:      "KARMA_NOTIFICATION",
	TripcodeInfo:           "TRIPCODE_INFO",
	TripcodeSet:            "TRIPCODE_SET",
	AFKTimeout:             "AFK_TIMEOUT",
	CleanupQueued:          "CLEANUP_QUEUED",
	ErrCommandDisabled:     "ERR_COMMAND_DISABLED",
	ErrNoReply:             "ERR_NO_REPLY",
	ErrNotInCache:          "ERR_NOT_IN_CACHE",
	ErrNoUser:              "ERR_NO_USER",
	ErrNoUserByID:          "ERR_NO_USER_BY_ID",
	ErrAlreadyWarned:       "ERR_ALREADY_WARNED",
	ErrNotInCooldown:       "ERR_NOT_IN_COOLDOWN",
	ErrNotBlacklisted:      "ERR_NOT_BLACKLISTED",
	ErrCooldown:            "ERR_COOLDOWN",
	ErrBlacklisted:         "ERR_BLACKLISTED",
	ErrAlreadyUpvoted:      "ERR_ALREADY_UPVOTED",
	ErrUpvoteOwnMessage:    "ERR_UPVOTE_OWN_MESSAGE",
	ErrSpammy:              "ERR_SPAMMY",
	ErrSpammySign:          "ERR_SPAMMY_SIGN",
	ErrSpammyVoice:         "ERR_SPAMMY_VOICE",
	ErrInvalidTripFormat:   "ERR_INVALID_TRIP_FORMAT",
	ErrNoTripcode:          "ERR_NO_TRIPCODE",
	ErrMediaLimit:          "ERR_MEDIA_LIMIT",
	ErrInvalidPrebanFormat: "ERR_INVALID_PREBAN_FORMAT",
	ErrAlreadyBanned:       "ERR_ALREADY_BANNED",
	UserInfo:               "USER_INFO",
	UserInfoMod:            "USER_INFO_MOD",
	UsersInfo:              "USERS_INFO",
	UsersInfoExtended:      "USERS_INFO_EXTENDED",
}

func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Category groups reply types into the error taxonomy.
type Category string

const (
	OK               Category = "ok"
	NotAuthenticated Category = "not_authenticated"
	Blacklisted      Category = "blacklisted"
	NotJoined        Category = "not_joined"
	RateLimited      Category = "rate_limited"
	NotFound         Category = "not_found"
	InvalidFormat    Category = "invalid_format"
	Conflict         Category = "conflict"
	Disabled         Category = "disabled"
)

// Category classifies t.
func (t Type) Category() Category {
	switch t {
	case UserNotInChat:
		return NotJoined
	case ErrBlacklisted:
		return Blacklisted
	case ErrCooldown, ErrSpammy, ErrSpammySign, ErrSpammyVoice, ErrMediaLimit:
		return RateLimited
	case ErrNotInCache, ErrNoUser, ErrNoUserByID, ErrNoReply, ErrNoTripcode:
		return NotFound
	case ErrInvalidTripFormat, ErrInvalidPrebanFormat:
		return InvalidFormat
	case ErrAlreadyWarned, ErrNotInCooldown, ErrNotBlacklisted, ErrAlreadyUpvoted,
		ErrUpvoteOwnMessage, ErrAlreadyBanned, UserInChat:
		return Conflict
	case ErrCommandDisabled:
		return Disabled
	}
	return OK
}

// Params are the named values a renderer substitutes into a reply.
type Params map[string]any

// Reply is a typed reply with its parameters.
type Reply struct {
	Type   Type
	Params Params
}

// New builds a reply from alternating key/value pairs.
func New(t Type, kv ...any) Reply {
	r := Reply{Type: t}
	if len(kv) > 0 {
		r.Params = make(Params, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			k, ok := kv[i].(string)
			if !ok {
				panic(fmt.Sprintf("reply.New: key %v is not a string", kv[i]))
			}
			r.Params[k] = kv[i+1]
		}
	}
	return r
}

// One wraps New in the slice shape every command returns.
func One(t Type, kv ...any) []Reply {
	return []Reply{New(t, kv...)}
}

// Get returns the named parameter, or nil.
func (r Reply) Get(key string) any {
	return r.Params[key]
}

func (r Reply) String() string {
	if len(r.Params) == 0 {
		return r.Type.String()
	}
	return fmt.Sprintf("%s%v", r.Type, map[string]any(r.Params))
}
