package engine

import (
	"errors"
	"fmt"
)

var ErrBadUCI = errors.New("malformed uci move")

// ParsedMove is a UCI move split into its parts.
type ParsedMove struct {
	From  string
	To    string
	Promo string // "q", "r", "b", "n" or empty
}

// UCI reassembles the wire form of the move.
func (m ParsedMove) UCI() string { return m.From + m.To + m.Promo }

// ParseUCI splits a 4-5 character UCI string into from/to squares and an
// optional promotion letter.
func ParseUCI(uci string) (ParsedMove, error) {
	if len(uci) != 4 && len(uci) != 5 {
		return ParsedMove{}, fmt.Errorf("%w: %q", ErrBadUCI, uci)
	}
	from, to := uci[0:2], uci[2:4]
	if !validSquare(from) || !validSquare(to) {
		return ParsedMove{}, fmt.Errorf("%w: %q", ErrBadUCI, uci)
	}
	m := ParsedMove{From: from, To: to}
	if len(uci) == 5 {
		switch uci[4] {
		case 'q', 'r', 'b', 'n':
			m.Promo = string(uci[4])
		default:
			return ParsedMove{}, fmt.Errorf("%w: bad promotion %q", ErrBadUCI, uci)
		}
	}
	return m, nil
}

func validSquare(sq string) bool {
	return len(sq) == 2 && sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}

// lastRank reports whether a destination square is a promotion rank.
func lastRank(sq string) bool {
	return len(sq) == 2 && (sq[1] == '1' || sq[1] == '8')
}
