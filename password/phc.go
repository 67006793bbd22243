package password

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2Params are the cost parameters carried inside a PHC string.
type argon2Params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	keyLength   uint32
}

func (p argon2Params) encode(salt, key []byte) string {
	var b strings.Builder
	b.Grow(96)
	b.WriteString("$" + algorithmID + "$v=")
	b.WriteString(strconv.Itoa(argon2.Version))
	b.WriteString("$m=")
	b.WriteString(strconv.FormatUint(uint64(p.memory), 10))
	b.WriteString(",t=")
	b.WriteString(strconv.FormatUint(uint64(p.time), 10))
	b.WriteString(",p=")
	b.WriteString(strconv.FormatUint(uint64(p.parallelism), 10))
	b.WriteByte('$')
	b.WriteString(base64.StdEncoding.EncodeToString(salt))
	b.WriteByte('$')
	b.WriteString(base64.StdEncoding.EncodeToString(key))
	return b.String()
}

// decodeArgon2 splits $argon2id$v=19$m=..,t=..,p=..$salt$key. The key
// length is implied by the decoded key.
func decodeArgon2(encoded string) (argon2Params, []byte, []byte, error) {
	var p argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, nil, nil, fmt.Errorf("%w: expected 5 PHC fields", ErrMalformedHash)
	}
	if parts[1] != algorithmID {
		return p, nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedHash, parts[1])
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return p, nil, nil, fmt.Errorf("%w: missing version", ErrMalformedHash)
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: argon2 version %q", ErrUnsupportedHash, version)
	}

	if err := p.parse(parts[3]); err != nil {
		return p, nil, nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return p, nil, nil, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	key, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	p.keyLength = uint32(len(key))
	return p, salt, key, nil
}

func (p *argon2Params) parse(field string) error {
	var seen [3]bool
	for _, pair := range strings.Split(field, ",") {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: parameter %q", ErrMalformedHash, pair)
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || v < uint64(minMemoryKB) || seen[0] {
				return fmt.Errorf("%w: memory", ErrMalformedHash)
			}
			p.memory, seen[0] = uint32(v), true
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || v < uint64(minTimeCost) || seen[1] {
				return fmt.Errorf("%w: time", ErrMalformedHash)
			}
			p.time, seen[1] = uint32(v), true
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || v < uint64(minParallelism) || seen[2] {
				return fmt.Errorf("%w: parallelism", ErrMalformedHash)
			}
			p.parallelism, seen[2] = uint8(v), true
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, name)
		}
	}
	if !seen[0] || !seen[1] || !seen[2] {
		return fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	return nil
}
