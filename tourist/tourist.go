// Package tourist defines the entity served by the gateway and the errors
// shared by every layer that stores or looks it up.
package tourist

import (
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
)

var (
	// ErrNotFound is returned by stores when no record matches a lookup.
	ErrNotFound = errors.New("tourist: not found")
	// ErrConflict is returned by stores when a unique field (email, phone) is taken.
	ErrConflict = errors.New("tourist: conflict")
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("tourist: invalid")
)

// Tourist is the cached record. Identity is ID; Email and PhoneNumber are unique.
type Tourist struct {
	ID          string `json:"id" msgpack:"id" cbor:"id"`
	Name        string `json:"name" msgpack:"name" cbor:"name"`
	Surname     string `json:"surname" msgpack:"surname" cbor:"surname"`
	Email       string `json:"email" msgpack:"email" cbor:"email"`
	PhoneNumber string `json:"phoneNumber" msgpack:"phoneNumber" cbor:"phoneNumber"`
	Country     string `json:"country" msgpack:"country" cbor:"country"`
}

// NameSurnameKey derives the key of the name+surname lookup dimension.
func NameSurnameKey(name, surname string) string {
	return name + "-" + surname
}

// NameSurnameKey is the name+surname key this tourist is listed under.
func (t Tourist) NameSurnameKey() string {
	return NameSurnameKey(t.Name, t.Surname)
}

// Validate checks the fields required by every mutation. ID is not checked;
// callers that need it (update) check it themselves.
func (t Tourist) Validate() error {
	var missing []string
	if strings.TrimSpace(t.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(t.Surname) == "" {
		missing = append(missing, "surname")
	}
	if strings.TrimSpace(t.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(t.PhoneNumber) == "" {
		missing = append(missing, "phoneNumber")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	if _, err := mail.ParseAddress(t.Email); err != nil {
		return fmt.Errorf("%w: email %q: %v", ErrInvalid, t.Email, err)
	}
	return nil
}

// IndexOf returns the position of the tourist with id in list, or -1.
func IndexOf(list []Tourist, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// Without returns list minus every entry whose ID is id. The input is not modified.
func Without(list []Tourist, id string) []Tourist {
	out := make([]Tourist, 0, len(list))
	for _, t := range list {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// Upsert returns list with t in place of the entry sharing its ID, or with t
// appended when there is none. The input is not modified.
func Upsert(list []Tourist, t Tourist) []Tourist {
	out := slices.Clone(list)
	if i := IndexOf(out, t.ID); i >= 0 {
		out[i] = t
		return out
	}
	return append(out, t)
}
