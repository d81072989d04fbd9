package enums

import "fmt"

// NumberStatus mirrors the virtual_number_status enum.
type NumberStatus string

const (
	NumberStatusActive   NumberStatus = "active"
	NumberStatusInactive NumberStatus = "inactive"
)

var validNumberStatuses = []NumberStatus{
	NumberStatusActive,
	NumberStatusInactive,
}

// String implements fmt.Stringer.
func (s NumberStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s NumberStatus) IsValid() bool {
	for _, candidate := range validNumberStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseNumberStatus converts raw input into a NumberStatus.
func ParseNumberStatus(value string) (NumberStatus, error) {
	for _, candidate := range validNumberStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid number status %q", value)
}
