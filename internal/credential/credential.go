package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/model"
	"golang.org/x/crypto/bcrypt"
)

const (
	usernameBytes = 4
	passwordBytes = 6
	idSuffixBytes = 3
)

// Issued holds the plaintext pair. It is shown to the creator once (by email)
// and never stored.
type Issued struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Issuer mints ticket ids and per-ticket owner credentials.
type Issuer struct {
	rand io.Reader
	cost int
	now  func() time.Time
}

type Option func(*Issuer)

// WithBcryptCost lowers the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(i *Issuer) { i.cost = cost }
}

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(opts ...Option) *Issuer {
	i := &Issuer{rand: rand.Reader, cost: bcrypt.DefaultCost, now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *Issuer) randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(i.rand, b); err != nil {
		return "", fmt.Errorf("credential: random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TicketID returns ticket-<UTC yyyyMMddHHmmssSSS>-<6 hex>.
func (i *Issuer) TicketID() (string, error) {
	suffix, err := i.randomHex(idSuffixBytes)
	if err != nil {
		return "", err
	}
	ts := strings.Replace(i.now().UTC().Format("20060102150405.000"), ".", "", 1)
	return "ticket-" + ts + "-" + suffix, nil
}

// Issue mints a new username/password and the record to persist.
func (i *Issuer) Issue() (Issued, *model.Credentials, error) {
	username, err := i.randomHex(usernameBytes)
	if err != nil {
		return Issued{}, nil, err
	}
	password, err := i.randomHex(passwordBytes)
	if err != nil {
		return Issued{}, nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), i.cost)
	if err != nil {
		return Issued{}, nil, fmt.Errorf("credential: hash: %w", err)
	}
	return Issued{Username: username, Password: password},
		&model.Credentials{Username: username, PasswordHash: string(hash)}, nil
}

// Verify checks a presented pair against the stored record in constant time
// with respect to the username. Records written before hashing carry a
// plaintext password and are compared directly.
func Verify(stored *model.Credentials, username, password string) bool {
	if stored == nil || username == "" || password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(stored.Username), []byte(username)) == 1
	var passOK bool
	switch {
	case stored.PasswordHash != "":
		passOK = bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(password)) == nil
	case stored.Password != "":
		passOK = subtle.ConstantTimeCompare([]byte(stored.Password), []byte(password)) == 1
	}
	return userOK && passOK
}

// SecretEqual compares a presented shared secret with the configured one.
// An empty configured secret never matches.
func SecretEqual(configured, presented string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
