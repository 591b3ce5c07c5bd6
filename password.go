package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/argon2"
)

// MinPasswordLength is the shortest password accepted anywhere
const MinPasswordLength = 8

// Argon2Params controls the cost of Argon2id hashing
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultArgon2Params is the OWASP recommended Argon2id profile
var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

// Argon2Hasher implements PasswordAuthenticator with Argon2id and
// PHC encoded hashes: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
type Argon2Hasher struct {
	params Argon2Params
}

var _ PasswordAuthenticator = (*Argon2Hasher)(nil)

// NewArgon2Hasher returns a hasher, zero params fall back to the defaults
func NewArgon2Hasher(params ...Argon2Params) *Argon2Hasher {
	p := DefaultArgon2Params
	if len(params) > 0 && params[0].Time > 0 {
		p = params[0]
	}
	return &Argon2Hasher{params: p}
}

// HashPassword will generate a password hash
func (h *Argon2Hasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate salt")
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func (h *Argon2Hasher) ComparePasswordAndHash(password, hash string) error {
	ok, err := h.Verify(hash, password)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMismatchedHashAndPassword
	}
	return nil
}

// Verify re-derives the key using the parameters embedded in hash and
// compares in constant time. A malformed hash is a security error.
func (h *Argon2Hasher) Verify(hash, password string) (bool, error) {
	params, salt, key, err := decodeArgon2Hash(hash)
	if err != nil {
		return false, err
	}

	derived := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, uint32(len(key)))

	return subtle.ConstantTimeCompare(derived, key) == 1, nil
}

func decodeArgon2Hash(encoded string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, malformedHash("unexpected hash layout")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, malformedHash("unreadable version")
	}
	if version != argon2.Version {
		return p, nil, nil, malformedHash("unsupported argon2 version")
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, malformedHash("unreadable parameters")
	}
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return p, nil, nil, malformedHash("zero parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, malformedHash("unreadable salt")
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, malformedHash("unreadable key")
	}

	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))

	return p, salt, key, nil
}

func malformedHash(reason string) error {
	return ErrMalformedHash.Clone().WithMetadata(map[string]any{"reason": reason})
}

var defaultHasher = NewArgon2Hasher()

// HashPassword hashes with the default Argon2id parameters
func HashPassword(password string) (string, error) {
	return defaultHasher.HashPassword(password)
}

// ComparePasswordAndHash checks password against hash with the default hasher
func ComparePasswordAndHash(password, hash string) error {
	return defaultHasher.ComparePasswordAndHash(password, hash)
}
