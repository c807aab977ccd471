package enums

import (
	"fmt"
	"strings"
)

// CarColor is the fixed palette operators pick from at registration.
type CarColor string

const (
	CarColorBlack  CarColor = "black"
	CarColorWhite  CarColor = "white"
	CarColorSilver CarColor = "silver"
	CarColorGray   CarColor = "gray"
	CarColorRed    CarColor = "red"
	CarColorBlue   CarColor = "blue"
	CarColorGreen  CarColor = "green"
	CarColorYellow CarColor = "yellow"
	CarColorOrange CarColor = "orange"
	CarColorBrown  CarColor = "brown"
	CarColorGold   CarColor = "gold"
	CarColorPurple CarColor = "purple"
	CarColorOther  CarColor = "other"
)

var validCarColors = []CarColor{
	CarColorBlack,
	CarColorWhite,
	CarColorSilver,
	CarColorGray,
	CarColorRed,
	CarColorBlue,
	CarColorGreen,
	CarColorYellow,
	CarColorOrange,
	CarColorBrown,
	CarColorGold,
	CarColorPurple,
	CarColorOther,
}

// String implements fmt.Stringer.
func (c CarColor) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CarColor.
func (c CarColor) IsValid() bool {
	for _, candidate := range validCarColors {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCarColor converts raw input into a CarColor.
func ParseCarColor(value string) (CarColor, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validCarColors {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid car color %q", value)
}
