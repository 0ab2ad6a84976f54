package room

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

var (
	ErrInvalidRoomCode = errors.New("invalid room code")
	ErrRoomNotFound    = errors.New("room not found")
)

const (
	codeMin = 1000
	codeMax = 9999
)

// randReader is swapped in tests.
var randReader io.Reader = rand.Reader

// GenerateCode returns a 4-digit room code drawn uniformly from
// [1000, 9999]. Codes name a negotiation, they are not secrets.
func GenerateCode() (string, error) {
	n, err := rand.Int(randReader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+codeMin), nil
}

// ValidateCode accepts exactly four ASCII digits.
func ValidateCode(code string) error {
	if len(code) != 4 {
		return fmt.Errorf("%w: %q is not 4 digits", ErrInvalidRoomCode, code)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return fmt.Errorf("%w: %q is not 4 digits", ErrInvalidRoomCode, code)
		}
	}
	return nil
}
