package segment

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/segmerge/codec"
	"github.com/hupe1980/segmerge/internal/compress"
	"github.com/hupe1980/segmerge/internal/fs"
)

// FormatOptions are the encoding choices of a segment.
type FormatOptions struct {
	// PatchCompression is the body compression of new patch files.
	PatchCompression string `json:"patch_compression" yaml:"patch_compression"`
	// PKKeyWidth is the key width of the pk table in bits (64 or 128).
	PKKeyWidth int `json:"pk_key_width" yaml:"pk_key_width"`
}

// DefaultFormatOptions returns the options used when a segment has none.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{PatchCompression: compress.None.String(), PKKeyWidth: 64}
}

// Compression returns the parsed patch compression.
func (o FormatOptions) Compression() (compress.Type, error) {
	return compress.ParseType(o.PatchCompression)
}

// Validate checks the options.
func (o FormatOptions) Validate() error {
	if _, err := o.Compression(); err != nil {
		return err
	}
	if o.PKKeyWidth != 64 && o.PKKeyWidth != 128 {
		return fmt.Errorf("pk key width must be 64 or 128, got %d", o.PKKeyWidth)
	}
	return nil
}

// WriteFormatOptions writes format_options as "<codec name>\n<payload>".
func WriteFormatOptions(dir fs.Directory, opts FormatOptions, c codec.Codec) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if c == nil {
		c = codec.Default
	}
	payload, err := c.Marshal(opts)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString(c.Name())
	buf.WriteByte('\n')
	buf.Write(payload)
	return fs.WriteFile(dir, FormatOptionsFile, buf.Bytes())
}

// ReadFormatOptions reads format_options, falling back to the defaults when the
// file does not exist.
func ReadFormatOptions(dir fs.Directory) (FormatOptions, error) {
	data, err := fs.ReadAll(dir, FormatOptionsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultFormatOptions(), nil
		}
		return FormatOptions{}, err
	}

	name, payload, ok := bytes.Cut(data, []byte{'\n'})
	if !ok {
		return FormatOptions{}, fmt.Errorf("%s/%s: missing codec name", dir.Path(), FormatOptionsFile)
	}
	c, ok := codec.ByName(string(name))
	if !ok {
		return FormatOptions{}, fmt.Errorf("%s/%s: unknown codec %q", dir.Path(), FormatOptionsFile, name)
	}

	opts := DefaultFormatOptions()
	if err := c.Unmarshal(payload, &opts); err != nil {
		return FormatOptions{}, fmt.Errorf("%s/%s: %w", dir.Path(), FormatOptionsFile, err)
	}
	return opts, opts.Validate()
}
