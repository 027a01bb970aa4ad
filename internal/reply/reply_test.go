package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewParams(t *testing.T) {
	assert := assert.New(t)

	r := New(ErrBlacklisted, "reason", "spam", "contact", "@appeals")
	assert.Equal(ErrBlacklisted, r.Type)
	assert.Equal("spam", r.Get("reason"))
	assert.Equal("@appeals", r.Get("contact"))
	assert.Nil(r.Get("missing"))

	assert.Nil(New(Success).Params)
	assert.Len(One(Success), 1)
}

func TestNewPanicsOnBadKey(t *testing.T) {
	assert.Panics(t, func() { New(Custom, 1, "x") })
}

func TestTypeNamesComplete(t *testing.T) {
	for ty := Custom; ty <= UsersInfoExtended; ty++ {
		assert.NotContains(t, ty.String(), "Type(", "missing name for %d", int(ty))
	}
	assert.Equal(t, "Type(999)", Type(999).String())
}

func TestCategories(t *testing.T) {
	cases := map[Type]Category{
		Success:                OK,
		UserNotInChat:          NotJoined,
		ErrBlacklisted:         Blacklisted,
		ErrSpammyVoice:         RateLimited,
		ErrCooldown:            RateLimited,
		ErrNotInCache:          NotFound,
		ErrInvalidPrebanFormat: InvalidFormat,
		ErrAlreadyWarned:       Conflict,
		ErrNotBlacklisted:      Conflict,
		ErrCommandDisabled:     Disabled,
	}
	for ty, want := range cases {
		assert.Equal(t, want, ty.Category(), ty.String())
	}
}
