package resolver

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dshills/addonhook/internal/native"
)

// Address is a native address that decodes from a YAML integer or string.
type Address native.Addr

// UnmarshalYAML implements yaml.Unmarshaler. A null value decodes to
// native.Null, which Resolve reports as invalid.
func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*a = Address(native.Null)
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: %w: expected a scalar", value.Line, ErrInvalidAddress)
	}
	addr, err := ParseAddr(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*a = Address(addr)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (a Address) MarshalYAML() (any, error) {
	return native.Addr(a).String(), nil
}

// File is the on-disk address table.
//
//	version: "7.0"
//	symbols:
//	  addon.initialize: 0x140a1b2c0
//	  addon.finalize: 0x140a1b5f0
type File struct {
	Version string             `yaml:"version"`
	Symbols map[string]Address `yaml:"symbols"`
}

// Decode reads an address table from r.
func Decode(r io.Reader) (*Table, string, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, "", fmt.Errorf("decode address table: %w", err)
	}

	t := NewTable(nil)
	for name, addr := range f.Symbols {
		t.Set(name, native.Addr(addr))
	}
	return t, f.Version, nil
}

// LoadFile reads an address table from path.
func LoadFile(path string) (*Table, string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open address table: %w", err)
	}
	defer fh.Close()
	return Decode(fh)
}

// Encode writes t as YAML.
func Encode(w io.Writer, t *Table, version string) error {
	f := File{Version: version, Symbols: make(map[string]Address)}
	t.mu.RLock()
	for k, v := range t.addrs {
		f.Symbols[k] = Address(v)
	}
	t.mu.RUnlock()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode address table: %w", err)
	}
	return enc.Close()
}
