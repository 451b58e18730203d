// Package invite issues team invite codes.
package invite

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/npezzotti/go-roster/internal/apperrors"
	"github.com/npezzotti/go-roster/internal/database"
)

const (
	// Alphabet omits O, 0, I and 1. Its length is 32, which divides 256,
	// so reducing a random byte modulo len(Alphabet) is unbiased.
	Alphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength  = 8
	MaxAttempts = 10
)

// Generator produces a candidate invite code.
type Generator func() (string, error)

func Generate() (string, error) {
	var buf [CodeLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	code := make([]byte, CodeLength)
	for i, b := range buf {
		code[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(code), nil
}

// Normalize is applied to codes both when issued and when redeemed.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code has the issued length and alphabet.
func Valid(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}

// IssueUnique draws codes from gen until one is not held by any team, giving
// up after MaxAttempts. The check and the caller's write must share tx.
func IssueUnique(tx database.Tx, gen Generator) (string, error) {
	if gen == nil {
		gen = Generate
	}

	for range MaxAttempts {
		code, err := gen()
		if err != nil {
			return "", apperrors.Internal(err)
		}
		code = Normalize(code)

		_, err = tx.GetTeamByInviteCode(code)
		if errors.Is(err, database.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", apperrors.Internal(err)
		}
	}

	return "", apperrors.New(apperrors.KindUniquenessExhausted,
		"Could not generate a unique invite code, please try again later")
}

// DisplayCode derives the public, non-secret team code from the team name
// and creation time.
func DisplayCode(name string, createdAt time.Time) string {
	var prefix []rune
	for _, r := range strings.ToUpper(name) {
		if len(prefix) == 3 {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			prefix = append(prefix, r)
		}
	}
	for len(prefix) < 3 {
		prefix = append(prefix, 'X')
	}

	return string(prefix) + "-" + strings.ToUpper(strconv.FormatInt(createdAt.UnixMilli(), 36))
}
