package schedule

import (
	"errors"
	"fmt"
	"strings"
)

// EndpointID identifies a network endpoint (device) that sources a path.
type EndpointID string

// Key identifies a schedule request. Two requests with the same source and
// symbolic name refer to the same schedule.
type Key struct {
	Source EndpointID `json:"source"`
	Name   string     `json:"name"`
}

var ErrInvalidKey = errors.New("invalid schedule key")

func NewKey(source, name string) Key {
	return Key{Source: EndpointID(strings.TrimSpace(source)), Name: strings.TrimSpace(name)}
}

func (k Key) IsZero() bool { return k.Source == "" && k.Name == "" }

// String renders the key as "source/name". Store backends use it as the row key.
func (k Key) String() string { return string(k.Source) + "/" + k.Name }

func (k Key) Validate() error {
	if strings.TrimSpace(string(k.Source)) == "" {
		return fmt.Errorf("%w: empty source", ErrInvalidKey)
	}
	if strings.TrimSpace(k.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidKey)
	}
	return nil
}

// ParseKey parses "source/name". The source part never contains '/'.
func ParseKey(s string) (Key, error) {
	src, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q, expected source/name", ErrInvalidKey, s)
	}
	k := NewKey(src, name)
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}
