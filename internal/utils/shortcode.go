package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	// CodeAlphabet is the alphabet of generated codes: lowercase letters and digits
	CodeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	// MinCodeLength is the shortest generated code
	MinCodeLength = 6
	// MaxCustomCodeLength is the longest accepted custom code
	MaxCustomCodeLength = 20
)

var customCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,20}$`)

// ValidCustomCode reports whether code may be used as a caller supplied short code
func ValidCustomCode(code string) bool {
	return customCodePattern.MatchString(code)
}

// CodeSource produces candidate short codes. Uniqueness is enforced by the store.
type CodeSource interface {
	Next() (string, error)
}

// RandomSource draws codes uniformly from CodeAlphabet using crypto/rand
type RandomSource struct {
	length int
}

// NewRandomSource creates a RandomSource. The length is clamped to
// [MinCodeLength, MaxCustomCodeLength] so generated codes stay routable.
func NewRandomSource(length int) *RandomSource {
	if length < MinCodeLength {
		length = MinCodeLength
	}
	if length > MaxCustomCodeLength {
		length = MaxCustomCodeLength
	}
	return &RandomSource{length: length}
}

func (s *RandomSource) Next() (string, error) {
	b := make([]byte, s.length)
	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		b[i] = CodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// SnowflakeSource encodes snowflake IDs in base36, giving time ordered codes
type SnowflakeSource struct {
	ids *IDNode
}

// NewSnowflakeSource creates a SnowflakeSource backed by ids
func NewSnowflakeSource(ids *IDNode) *SnowflakeSource {
	return &SnowflakeSource{ids: ids}
}

func (s *SnowflakeSource) Next() (string, error) {
	code := EncodeBase36(s.ids.Next())
	if len(code) < MinCodeLength {
		code = strings.Repeat("0", MinCodeLength-len(code)) + code
	}
	return code, nil
}

// EncodeBase36 converts a non-negative number to base36 using CodeAlphabet
func EncodeBase36(num int64) string {
	if num <= 0 {
		return string(CodeAlphabet[0])
	}

	base := int64(len(CodeAlphabet))
	var buf [16]byte
	i := len(buf)
	for num > 0 {
		i--
		buf[i] = CodeAlphabet[num%base]
		num /= base
	}
	return string(buf[i:])
}
