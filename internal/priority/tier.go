// Package priority classifies maintenance events into one of five ordered
// tiers. Classification is a pure function of the event category and its
// payload; the only clock dependency is the due-date rule.
package priority

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is a notification priority. The set is closed and totally ordered:
// Critical > High > Medium > Low > Info.
type Tier string

const (
	Critical Tier = "critical"
	High     Tier = "high"
	Medium   Tier = "medium"
	Low      Tier = "low"
	Info     Tier = "info"
)

var ErrUnknownTier = errors.New("unknown priority tier")

// Tiers lists every tier from most to least urgent.
var Tiers = []Tier{Critical, High, Medium, Low, Info}

// Rank returns 0 for Critical through 4 for Info. Unknown tiers rank below Info.
func (t Tier) Rank() int {
	switch t {
	case Critical:
		return 0
	case High:
		return 1
	case Medium:
		return 2
	case Low:
		return 3
	case Info:
		return 4
	default:
		return len(Tiers)
	}
}

// Valid reports whether t is one of the five tiers.
func (t Tier) Valid() bool { return t.Rank() < len(Tiers) }

// Admits reports whether t is at least as urgent as min.
func (t Tier) Admits(min Tier) bool { return t.Rank() <= min.Rank() }

func (t Tier) String() string { return string(t) }

// ParseTier accepts any casing and surrounding whitespace.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, string(t))
	}
	return []byte(t), nil
}
