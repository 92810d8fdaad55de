package verification

import "fmt"

// Tier is the trust label derived from a verification count.
// Tiers are ordered: Unverified < Reliable < Verified.
type Tier int

const (
	Unverified Tier = iota
	Reliable
	Verified
)

const (
	reliableThreshold = 2
	verifiedThreshold = 5
)

// TierOf derives the tier for count.
func TierOf(count int) Tier {
	switch {
	case count >= verifiedThreshold:
		return Verified
	case count >= reliableThreshold:
		return Reliable
	default:
		return Unverified
	}
}

func (t Tier) String() string {
	switch t {
	case Verified:
		return "verified"
	case Reliable:
		return "reliable"
	case Unverified:
		return "unverified"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "verified":
		*t = Verified
	case "reliable":
		*t = Reliable
	case "unverified":
		*t = Unverified
	default:
		return fmt.Errorf("unknown tier %q", b)
	}
	return nil
}
