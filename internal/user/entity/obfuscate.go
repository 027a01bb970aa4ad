package entity

import (
	"encoding/binary"
	"time"

	"golang.org/x/crypto/blake2b"
)

const oidAlphabet = "0123456789abcdefghijklmnopqrstuv"

// ObfuscatedID derives a short public id from the user id, the current UTC
// day and a process secret. It is stable within a day and unlinkable across days.
func (u *User) ObfuscatedID(secret []byte, now time.Time) string {
	return ObfuscateID(u.ID, secret, now)
}

func ObfuscateID(id int64, secret []byte, now time.Time) string {
	key := secret
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// only reachable with an oversized key, which is truncated above
		panic(err)
	}
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(id))
	binary.BigEndian.PutUint64(buf[8:], uint64(now.UTC().Unix()/86400))
	h.Write(buf[:])
	sum := h.Sum(nil)
	v := uint32(sum[0])<<16 | uint32(sum[1])<<8 | uint32(sum[2])

	out := make([]byte, 4)
	for i := range out {
		out[i] = oidAlphabet[(v>>(5*uint(i)))%32]
	}
	return string(out)
}
