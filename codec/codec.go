// Package codec encodes the metadata files of a segment: segment info and
// format options.
//
// Metadata files record the name of the codec they were written with, so a
// table can switch codecs without rewriting existing segments.
package codec

// Codec marshals metadata values. Implementations are safe for concurrent
// use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is used for newly written metadata when no codec is configured.
var Default Codec = GoJSON{}

// ByName returns the built-in codec recorded as name in a metadata file.
func ByName(name string) (Codec, bool) {
	for _, c := range []Codec{GoJSON{}, JSON{}, YAML{}} {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}
