package enums

import "fmt"

// CODMethod records how an at-door payment was settled.
type CODMethod string

const (
	CODMethodCash CODMethod = "cash"
	CODMethodQR   CODMethod = "qr"
)

var validCODMethods = []CODMethod{
	CODMethodCash,
	CODMethodQR,
}

// String implements fmt.Stringer.
func (c CODMethod) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CODMethod.
func (c CODMethod) IsValid() bool {
	for _, candidate := range validCODMethods {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCODMethod converts raw input into a CODMethod.
func ParseCODMethod(value string) (CODMethod, error) {
	for _, candidate := range validCODMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cod method %q", value)
}
