package credential

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestIssuer_TicketIDFormat(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 678_000_000, time.FixedZone("X", 3600))
	i := NewIssuer(WithClock(func() time.Time { return now }))
	i.rand = bytes.NewReader([]byte{0xab, 0xcd, 0xef})

	id, err := i.TicketID()
	require.NoError(t, err)
	assert.Equal(t, "ticket-20250102020405678-abcdef", id)
}

func TestIssuer_TicketIDsDiffer(t *testing.T) {
	i := NewIssuer()
	a, err := i.TicketID()
	require.NoError(t, err)
	b, err := i.TicketID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, regexp.MustCompile(`^ticket-\d{17}-[0-9a-f]{6}$`), a)
}

func TestIssuer_Issue(t *testing.T) {
	i := NewIssuer(WithBcryptCost(bcrypt.MinCost))

	plain, stored, err := i.Issue()
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{8}$`, plain.Username)
	assert.Regexp(t, `^[0-9a-f]{12}$`, plain.Password)
	assert.Equal(t, plain.Username, stored.Username)
	assert.Empty(t, stored.Password, "plaintext must not be persisted")
	assert.NotEqual(t, plain.Password, stored.PasswordHash)

	assert.True(t, Verify(stored, plain.Username, plain.Password))
	assert.False(t, Verify(stored, plain.Username, plain.Password+"x"))
	assert.False(t, Verify(stored, "nobody00", plain.Password))
	assert.False(t, Verify(stored, "", ""))
	assert.False(t, Verify(nil, plain.Username, plain.Password))
}

func TestIssuer_RandomFailure(t *testing.T) {
	i := NewIssuer()
	i.rand = bytes.NewReader(nil)
	_, _, err := i.Issue()
	assert.Error(t, err)
	_, err = i.TicketID()
	assert.Error(t, err)
}

func TestVerify_LegacyPlaintext(t *testing.T) {
	legacy := &model.Credentials{Username: "1a2b3c4d", Password: "00112233aabb"}
	assert.True(t, Verify(legacy, "1a2b3c4d", "00112233aabb"))
	assert.False(t, Verify(legacy, "1a2b3c4d", "00112233aabc"))
}

func TestSecretEqual(t *testing.T) {
	assert.True(t, SecretEqual("s3cret", "s3cret"))
	assert.False(t, SecretEqual("s3cret", "s3cre"))
	assert.False(t, SecretEqual("", ""))
	assert.False(t, SecretEqual("s3cret", ""))
}
