package fetch

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a failed fetch.
type Kind int

const (
	KindNetwork Kind = iota + 1 // transport failure or cancelled request
	KindStatus                  // non-2xx response
	KindParse                   // body is not valid JSON
	KindSchema                  // valid JSON, wrong shape or invalid fields
)

var kindNames = map[Kind]string{
	KindNetwork: "network",
	KindStatus:  "status",
	KindParse:   "parse",
	KindSchema:  "schema",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Error is returned by Client.Fetch for every failure.
type Error struct {
	Kind   Kind
	Status int // HTTP status for KindStatus, 0 otherwise
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("%s error (%d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

func networkErr(err error) error { return &Error{Kind: KindNetwork, Err: err} }
func parseErr(err error) error   { return &Error{Kind: KindParse, Err: err} }

func schemaErr(format string, args ...any) error {
	return &Error{Kind: KindSchema, Err: fmt.Errorf(format, args...)}
}
