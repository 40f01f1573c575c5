// Package event enumerates addon lifecycle moments.
package event

import (
	"fmt"
	"strings"
)

// Family groups the Pre and Post kinds of one lifecycle operation.
type Family uint8

const (
	Setup Family = iota
	Update
	Draw
	Refresh
	RequestedUpdate
	ReceiveEvent
	Show
	Hide
	Open
	Close
	Finalize
	Move
	MouseOver
	MouseOut
	Focus

	familyCount
)

// FamilyCount is the number of lifecycle families.
const FamilyCount = int(familyCount)

var familyNames = [familyCount]string{
	Setup:           "Setup",
	Update:          "Update",
	Draw:            "Draw",
	Refresh:         "Refresh",
	RequestedUpdate: "RequestedUpdate",
	ReceiveEvent:    "ReceiveEvent",
	Show:            "Show",
	Hide:            "Hide",
	Open:            "Open",
	Close:           "Close",
	Finalize:        "Finalize",
	Move:            "Move",
	MouseOver:       "MouseOver",
	MouseOut:        "MouseOut",
	Focus:           "Focus",
}

// String returns the family name.
func (f Family) String() string {
	if f.Valid() {
		return familyNames[f]
	}
	return fmt.Sprintf("Family(%d)", uint8(f))
}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	return f < familyCount
}

// Pre returns the kind fired before the original call.
func (f Family) Pre() Kind {
	return Kind(f) << 1
}

// Post returns the kind fired after the original call. Finalize has none.
func (f Family) Post() (Kind, bool) {
	if f == Finalize {
		return 0, false
	}
	return Kind(f)<<1 | 1, true
}

// ParseFamily resolves a family by name, case-insensitively.
func ParseFamily(s string) (Family, error) {
	for i, name := range familyNames {
		if strings.EqualFold(name, s) {
			return Family(i), nil
		}
	}
	return 0, fmt.Errorf("unknown lifecycle family %q", s)
}

// Families returns every family in declaration order.
func Families() []Family {
	out := make([]Family, familyCount)
	for i := range out {
		out[i] = Family(i)
	}
	return out
}

// Kind is a single lifecycle moment: a family plus a Pre/Post phase.
// The low bit is the phase, the remaining bits the family.
type Kind uint8

const (
	PreSetup            = Kind(Setup) << 1
	PostSetup           = PreSetup | 1
	PreUpdate           = Kind(Update) << 1
	PostUpdate          = PreUpdate | 1
	PreDraw             = Kind(Draw) << 1
	PostDraw            = PreDraw | 1
	PreRefresh          = Kind(Refresh) << 1
	PostRefresh         = PreRefresh | 1
	PreRequestedUpdate  = Kind(RequestedUpdate) << 1
	PostRequestedUpdate = PreRequestedUpdate | 1
	PreReceiveEvent     = Kind(ReceiveEvent) << 1
	PostReceiveEvent    = PreReceiveEvent | 1
	PreShow             = Kind(Show) << 1
	PostShow            = PreShow | 1
	PreHide             = Kind(Hide) << 1
	PostHide            = PreHide | 1
	PreOpen             = Kind(Open) << 1
	PostOpen            = PreOpen | 1
	PreClose            = Kind(Close) << 1
	PostClose           = PreClose | 1
	PreFinalize         = Kind(Finalize) << 1
	PreMove             = Kind(Move) << 1
	PostMove            = PreMove | 1
	PreMouseOver        = Kind(MouseOver) << 1
	PostMouseOver       = PreMouseOver | 1
	PreMouseOut         = Kind(MouseOut) << 1
	PostMouseOut        = PreMouseOut | 1
	PreFocus            = Kind(Focus) << 1
	PostFocus           = PreFocus | 1
)

// KindSpace bounds Kind values; arrays indexed by Kind use it as length.
const KindSpace = FamilyCount * 2

// Family returns the operation the kind belongs to.
func (k Kind) Family() Family {
	return Family(k >> 1)
}

// IsPre reports whether k fires before the original call.
func (k Kind) IsPre() bool {
	return k&1 == 0
}

// Valid reports whether k is a defined kind.
func (k Kind) Valid() bool {
	return k.Family().Valid() && (k.IsPre() || k.Family() != Finalize)
}

// String returns the kind name, e.g. "PreShow".
func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	if k.IsPre() {
		return "Pre" + k.Family().String()
	}
	return "Post" + k.Family().String()
}

// Parse resolves a kind by name, e.g. "PreShow" or "postreceiveevent".
func Parse(s string) (Kind, error) {
	var post bool
	switch {
	case len(s) > 3 && strings.EqualFold(s[:3], "pre"):
		s = s[3:]
	case len(s) > 4 && strings.EqualFold(s[:4], "post"):
		post = true
		s = s[4:]
	default:
		return 0, fmt.Errorf("unknown lifecycle event %q", s)
	}

	f, err := ParseFamily(s)
	if err != nil {
		return 0, fmt.Errorf("unknown lifecycle event %q", s)
	}
	if !post {
		return f.Pre(), nil
	}
	k, ok := f.Post()
	if !ok {
		return 0, fmt.Errorf("%s has no post event", f)
	}
	return k, nil
}

// Kinds returns every valid kind in order.
func Kinds() []Kind {
	out := make([]Kind, 0, KindSpace)
	for k := Kind(0); int(k) < KindSpace; k++ {
		if k.Valid() {
			out = append(out, k)
		}
	}
	return out
}
