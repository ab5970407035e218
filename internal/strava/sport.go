package strava

import (
	"strings"
	"unicode"
)

// SportType indexes activity kinds. The order is persisted in users'
// enabled-activity bitfields, so new kinds may only be appended.
type SportType int

const (
	AlpineSki SportType = iota
	BackcountrySki
	EBikeRide
	EMountainBikeRide
	GravelRide
	Handcycle
	Hike
	MountainBikeRide
	NordicSki
	Ride
	RockClimbing
	RollerSki
	Run
	Skateboard
	Snowboard
	Snowshoe
	TrailRun
	Walk
)

var sportTypeNames = [...]string{
	AlpineSki:         "AlpineSki",
	BackcountrySki:    "BackcountrySki",
	EBikeRide:         "EBikeRide",
	EMountainBikeRide: "EMountainBikeRide",
	GravelRide:        "GravelRide",
	Handcycle:         "Handcycle",
	Hike:              "Hike",
	MountainBikeRide:  "MountainBikeRide",
	NordicSki:         "NordicSki",
	Ride:              "Ride",
	RockClimbing:      "RockClimbing",
	RollerSki:         "RollerSki",
	Run:               "Run",
	Skateboard:        "Skateboard",
	Snowboard:         "Snowboard",
	Snowshoe:          "Snowshoe",
	TrailRun:          "TrailRun",
	Walk:              "Walk",
}

func SportTypes() []SportType {
	out := make([]SportType, len(sportTypeNames))
	for i := range sportTypeNames {
		out[i] = SportType(i)
	}
	return out
}

func (s SportType) String() string {
	if s < 0 || int(s) >= len(sportTypeNames) {
		return ""
	}
	return sportTypeNames[s]
}

// Pretty returns the display name, e.g. "Trail Run".
func (s SportType) Pretty() string {
	return PrettyName(s.String())
}

func ParseSportType(name string) (SportType, bool) {
	for i, n := range sportTypeNames {
		if n == name {
			return SportType(i), true
		}
	}
	return 0, false
}

// PrettyName splits a CamelCase name into words at each upper-case letter.
func PrettyName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func DefaultEnabledActivities() Bitfield {
	var b Bitfield
	b.Set(int(Hike), true)
	b.Set(int(TrailRun), true)
	return b
}

// ActivityEnabled reports whether sportType is switched on in enabled.
// Unknown sport types are never enabled.
func ActivityEnabled(enabled Bitfield, sportType string) bool {
	st, ok := ParseSportType(sportType)
	if !ok {
		return false
	}
	return enabled.Get(int(st))
}

func EnabledSportTypes(enabled Bitfield) []SportType {
	var out []SportType
	for _, st := range SportTypes() {
		if enabled.Get(int(st)) {
			out = append(out, st)
		}
	}
	return out
}
