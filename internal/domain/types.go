package domain

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

type Status int

const (
	StatusIdle Status = iota
	StatusInactive
	StatusActive
)

func (status Status) String() string {
	switch status {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	default:
		return "idle"
	}
}

func (status Status) Valid() bool {
	return status >= StatusIdle && status <= StatusActive
}

func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "idle", "":
		return StatusIdle, nil
	case "inactive":
		return StatusInactive, nil
	case "active":
		return StatusActive, nil
	default:
		return StatusIdle, fmt.Errorf("unknown status %q", value)
	}
}

// StatusFromActive maps the boolean isActive flag some backends send.
func StatusFromActive(active bool) Status {
	if active {
		return StatusActive
	}
	return StatusInactive
}

func (status Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(status.String())
}

func (status *Status) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		parsed, err := ParseStatus(value)
		if err != nil {
			return err
		}
		*status = parsed
		return nil
	}
	var number int
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	parsed := Status(number)
	if !parsed.Valid() {
		return fmt.Errorf("status out of range: %d", number)
	}
	*status = parsed
	return nil
}
