package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrPlaceEmpty is returned when the place is empty or whitespace-only after trim.
	ErrPlaceEmpty        = errors.New("place is required")
	ErrPlaceTooShort     = errors.New("place too short")
	ErrPlaceTooLong      = errors.New("place too long")
	ErrPlaceInvalidChars = errors.New("place contains invalid characters")
	ErrCoordinates       = errors.New("coordinates out of range")
)

// Default bounds for a manual place identifier, in runes.
const (
	PlaceMinLen = 2
	PlaceMaxLen = 100
)

// ValidatePlace trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts it to letters (Unicode), digits, space, comma, hyphen, period and
// apostrophe. Returns the trimmed string.
func ValidatePlace(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrPlaceEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrPlaceTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrPlaceTooLong
	}
	for _, c := range r {
		if !isAllowedPlaceRune(c) {
			return "", ErrPlaceInvalidChars
		}
	}
	return s, nil
}

func isAllowedPlaceRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// ValidateCoordinates checks latitude and longitude ranges.
func ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %f", ErrCoordinates, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %f", ErrCoordinates, lon)
	}
	return nil
}
