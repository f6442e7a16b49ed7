// Package secret holds credentials that must never reach logs, error
// messages or serialized state.
package secret

const redacted = "[REDACTED]"

// String wraps a credential. Every formatting path renders a placeholder;
// the raw value is only reachable through Expose.
type String struct {
	v string
}

func New(v string) String { return String{v: v} }

// Expose returns the raw credential. Call it only at the point the value is
// put on the wire.
func (s String) Expose() string { return s.v }

func (s String) IsEmpty() bool { return s.v == "" }

func (s String) String() string   { return redacted }
func (s String) GoString() string { return redacted }

func (s String) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

func (s String) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Decode lets envconfig populate a String from the environment.
func (s *String) Decode(value string) error {
	s.v = value
	return nil
}

// Set lets a String be used as a flag.Value.
func (s *String) Set(value string) error {
	s.v = value
	return nil
}
