package core

import (
	"fmt"
	"strconv"
)

// ChangeToken is a monotonic position in the store's commit log. It carries no
// business meaning; external readers persist it between polls and replay
// changes strictly after it. The zero token means "from the beginning".
type ChangeToken int64

// ZeroToken is the position before the first commit.
const ZeroToken ChangeToken = 0

// After reports whether t is strictly later in the commit log than other.
func (t ChangeToken) After(other ChangeToken) bool {
	return t > other
}

// IsZero reports whether t is the start-of-log position.
func (t ChangeToken) IsZero() bool {
	return t == ZeroToken
}

// String renders the token in its external, persistable form.
func (t ChangeToken) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// ParseChangeToken restores a token from its external form.
func ParseChangeToken(s string) (ChangeToken, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ZeroToken, fmt.Errorf("parse change token %q: %w", s, err)
	}
	if n < 0 {
		return ZeroToken, fmt.Errorf("parse change token %q: negative position", s)
	}
	return ChangeToken(n), nil
}
