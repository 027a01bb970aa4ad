package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/opsauth"
)

func TestMintToken(t *testing.T) {
	t.Setenv("LOUNGE_OPS_TOKEN_SECRET", "ops secret")
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	require.NoError(t, app.Run([]string{"lounge", "mint-token", "--subject", "alice", "--ttl", "1h"}))

	iss, err := opsauth.NewIssuer([]byte("ops secret"), clockwork.NewRealClock())
	require.NoError(t, err)
	claims, err := iss.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestMintTokenNeedsSecret(t *testing.T) {
	t.Setenv("LOUNGE_OPS_TOKEN_SECRET", "")
	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"lounge", "mint-token"})
	assert.ErrorContains(t, err, "ops_token_secret")
}
