package password

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 10
	algorithmID           = "argon2id"

	// DefaultMaxPasswordBytes bounds the input hashed when Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024
)

var (
	// ErrPasswordTooShort is returned by HashPassword for inputs under 10 bytes.
	ErrPasswordTooShort = errors.New("password must be at least 10 bytes")
	// ErrPasswordTooLong is returned when the input exceeds the hasher's limit.
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrUnsupportedHash is returned for hashes of an unknown scheme or version.
	ErrUnsupportedHash = errors.New("unsupported password hash")
)

// Config holds Argon2id cost parameters.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// DefaultConfig returns interactive-login Argon2id parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (c Config) params() argon2Params {
	return argon2Params{memory: c.Memory, time: c.Time, parallelism: c.Parallelism, keyLength: c.KeyLength}
}

// Validate checks every parameter against its floor.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("argon2 memory must be >= %d KiB", minMemoryKB)
	case c.Time < minTimeCost:
		return fmt.Errorf("argon2 time must be >= %d", minTimeCost)
	case c.Parallelism < minParallelism:
		return fmt.Errorf("argon2 parallelism must be >= %d", minParallelism)
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("argon2 salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("argon2 key length must be >= %d", minKeyLength)
	case c.MaxPasswordBytes < 0, c.MaxPasswordBytes > 0 && c.MaxPasswordBytes < minPassBytes:
		return fmt.Errorf("argon2 max password bytes must be 0 or >= %d", minPassBytes)
	}
	return nil
}

// Argon2 hashes and verifies passwords with Argon2id.
type Argon2 struct {
	config Config
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Argon2{config: cfg}, nil
}

// HashPassword returns the PHC encoding of plain under a fresh random salt.
// Input bytes are used as given, without Unicode normalization.
func (a *Argon2) HashPassword(plain string) (string, error) {
	if len(plain) < minPassBytes {
		return "", ErrPasswordTooShort
	}
	if len(plain) > a.config.MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	p := a.config.params()
	key := argon2.IDKey([]byte(plain), salt, p.time, p.memory, p.parallelism, p.keyLength)
	return p.encode(salt, key), nil
}

// VerifyPassword reports whether plain matches hashed. A malformed hash is
// an error; a mismatch is (false, nil). Parameters come from the hash, so
// hashes produced under an older Config still verify.
func (a *Argon2) VerifyPassword(plain, hashed string) (bool, error) {
	if len(plain) > a.config.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	p, salt, key, err := decodeArgon2(hashed)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plain), salt, p.time, p.memory, p.parallelism, p.keyLength)
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

// NeedsUpgrade reports whether hashed was produced with weaker parameters
// than the hasher's current Config.
func (a *Argon2) NeedsUpgrade(hashed string) (bool, error) {
	p, _, _, err := decodeArgon2(hashed)
	if err != nil {
		return false, err
	}
	want := a.config.params()
	return want.memory > p.memory ||
		want.time > p.time ||
		want.parallelism > p.parallelism ||
		want.keyLength != p.keyLength, nil
}
