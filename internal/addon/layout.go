// Package addon describes the in-memory shape of a native addon object.
//
// An addon object starts with a pointer to its dispatch table. The table is
// an array of function pointers; which slot holds which lifecycle function
// depends on the host build and is supplied by a Layout.
package addon

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/native"
)

// ErrInvalidLayout is returned by Validate.
var ErrInvalidLayout = errors.New("invalid addon layout")

// Layout is a versioned description of addon objects and their tables.
type Layout struct {
	// Version identifies the host build the layout was taken from.
	Version string

	// NameOffset is the byte offset of the inline, NUL-terminated name.
	NameOffset int

	// NameLength is the capacity of the inline name buffer.
	NameLength int

	// TableSize is the number of words in the largest known dispatch table.
	// Replacement tables are allocated at this size.
	TableSize int

	// Destructor is the table slot of the virtual destructor.
	Destructor int

	// FreeMask selects the destructor flag bits that mean the object's
	// memory is released along with it.
	FreeMask uint32

	// Slots maps lifecycle families to table slots. Families without a slot
	// are not reached through the table.
	Slots map[event.Family]int
}

// Default returns the layout of the reference host build.
func Default() Layout {
	return Layout{
		Version:    "7.0",
		NameOffset: 0x28,
		NameLength: 32,
		TableSize:  73,
		Destructor: 0,
		FreeMask:   0x1,
		Slots: map[event.Family]int{
			event.ReceiveEvent:    2,
			event.Open:            3,
			event.Close:           4,
			event.Show:            5,
			event.Hide:            6,
			event.Move:            30,
			event.Focus:           31,
			event.MouseOver:       32,
			event.MouseOut:        33,
			event.Update:          41,
			event.Draw:            42,
			event.Setup:           47,
			event.Refresh:         49,
			event.RequestedUpdate: 50,
		},
	}
}

// Validate checks that every slot fits in the table and that no two
// functions share a slot.
func (l Layout) Validate() error {
	var errs []error
	if l.TableSize <= 0 {
		errs = append(errs, fmt.Errorf("table size %d must be positive", l.TableSize))
	}
	if l.NameOffset < native.WordSize {
		errs = append(errs, fmt.Errorf("name offset %#x overlaps the table pointer", l.NameOffset))
	}
	if l.NameLength <= 0 {
		errs = append(errs, fmt.Errorf("name length %d must be positive", l.NameLength))
	}
	if l.FreeMask == 0 {
		errs = append(errs, errors.New("free mask must select at least one bit"))
	}

	used := map[int]string{}
	check := func(what string, slot int) {
		if slot < 0 || slot >= l.TableSize {
			errs = append(errs, fmt.Errorf("%s slot %d outside table of %d", what, slot, l.TableSize))
			return
		}
		if prev, ok := used[slot]; ok {
			errs = append(errs, fmt.Errorf("%s and %s share slot %d", prev, what, slot))
			return
		}
		used[slot] = what
	}
	check("destructor", l.Destructor)
	for _, f := range l.Families() {
		if f == event.Finalize {
			errs = append(errs, errors.New("finalize is not a table function"))
			continue
		}
		check(f.String(), l.Slots[f])
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidLayout, errors.Join(errs...))
	}
	return nil
}

// Slot returns the table slot of family f.
func (l Layout) Slot(f event.Family) (int, bool) {
	s, ok := l.Slots[f]
	return s, ok
}

// Families returns the families that have a slot, in family order.
func (l Layout) Families() []event.Family {
	out := make([]event.Family, 0, len(l.Slots))
	for f := range l.Slots {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FreesMemory reports whether a destructor called with flags releases the
// object's memory.
func (l Layout) FreesMemory(flags uint32) bool {
	return flags&l.FreeMask != 0
}

// TableBytes is the size of a replacement table in bytes.
func (l Layout) TableBytes() int {
	return l.TableSize * native.WordSize
}

// TablePtr returns the dispatch table pointer of the object at obj.
func TablePtr(mem native.Memory, obj native.Addr) native.Addr {
	return native.Addr(mem.ReadWord(obj))
}

// Entry returns the function stored in slot of table.
func Entry(mem native.Memory, table native.Addr, slot int) native.Addr {
	return native.Addr(mem.ReadWord(table.Word(slot)))
}

// Name reads the inline name of the object at obj.
func (l Layout) Name(mem native.Memory, obj native.Addr) string {
	return native.ReadCString(mem, obj.Offset(l.NameOffset), l.NameLength)
}
