// Package args holds the argument objects handed to lifecycle listeners.
//
// Each lifecycle family has one concrete argument type. Instances are pooled
// and reused across calls: a listener must not keep an argument object after
// its callback returns, because the next intercepted call will overwrite it.
//
// Fields that mirror native call parameters are plain exported fields. A
// listener may change them during a Pre event; the changed values are what
// the original function receives. The Update time delta is read-only.
package args

import (
	"math"

	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/native"
)

// Args is the listener-facing view of an argument object.
type Args interface {
	// AddonName returns the name of the addon the call targets.
	AddonName() string

	// Addon returns the address of the addon object.
	Addon() native.Addr

	// Family returns the lifecycle family of the intercepted call.
	Family() event.Family
}

// Codec moves call parameters between a native register image and an
// argument object. Slot 0 of the image is the receiver and is never changed.
type Codec interface {
	Args

	// Bind sets the addon identity for the current call.
	Bind(name string, addon native.Addr)

	// Decode overwrites the argument fields from the call parameters.
	Decode(raw native.CallArgs)

	// Encode writes the (possibly mutated) fields back into the call parameters.
	Encode(raw *native.CallArgs)

	reset()
}

type base struct {
	name  string
	addon native.Addr
}

// AddonName implements Args.
func (b *base) AddonName() string { return b.name }

// Addon implements Args.
func (b *base) Addon() native.Addr { return b.addon }

// Bind implements Codec.
func (b *base) Bind(name string, addon native.Addr) {
	b.name = name
	b.addon = addon
}

// SetupArgs carries the value array passed to an addon's setup.
type SetupArgs struct {
	base
	ValueCount uint32
	Values     native.Addr
}

// Family implements Args.
func (*SetupArgs) Family() event.Family { return event.Setup }

// Decode implements Codec.
func (a *SetupArgs) Decode(raw native.CallArgs) {
	a.ValueCount = uint32(raw[1])
	a.Values = native.Addr(raw[2])
}

// Encode implements Codec.
func (a *SetupArgs) Encode(raw *native.CallArgs) {
	raw[1] = uintptr(a.ValueCount)
	raw[2] = uintptr(a.Values)
}

func (a *SetupArgs) reset() { *a = SetupArgs{} }

// UpdateArgs carries the frame time delta. The delta is observable only;
// the original update always receives the engine's value.
type UpdateArgs struct {
	base
	timeDelta float32
}

// TimeDelta returns the frame time in seconds.
func (a *UpdateArgs) TimeDelta() float32 { return a.timeDelta }

// Family implements Args.
func (*UpdateArgs) Family() event.Family { return event.Update }

// Decode reads the packed time delta.
func (a *UpdateArgs) Decode(raw native.CallArgs) {
	a.timeDelta = math.Float32frombits(uint32(raw[1]))
}

// Encode leaves the parameters untouched; the delta is read-only.
func (*UpdateArgs) Encode(*native.CallArgs) {}

func (a *UpdateArgs) reset() { *a = UpdateArgs{} }

// DeltaWord packs a time delta into the native parameter word.
func DeltaWord(seconds float32) uintptr {
	return uintptr(math.Float32bits(seconds))
}

// RefreshArgs carries the value array passed to an addon refresh.
type RefreshArgs struct {
	base
	ValueCount uint32
	Values     native.Addr
}

// Family implements Args.
func (*RefreshArgs) Family() event.Family { return event.Refresh }

// Decode implements Codec.
func (a *RefreshArgs) Decode(raw native.CallArgs) {
	a.ValueCount = uint32(raw[1])
	a.Values = native.Addr(raw[2])
}

// Encode implements Codec.
func (a *RefreshArgs) Encode(raw *native.CallArgs) {
	raw[1] = uintptr(a.ValueCount)
	raw[2] = uintptr(a.Values)
}

func (a *RefreshArgs) reset() { *a = RefreshArgs{} }

// RequestedUpdateArgs carries the number and string array holders.
type RequestedUpdateArgs struct {
	base
	NumberArrayData native.Addr
	StringArrayData native.Addr
}

// Family implements Args.
func (*RequestedUpdateArgs) Family() event.Family { return event.RequestedUpdate }

// Decode implements Codec.
func (a *RequestedUpdateArgs) Decode(raw native.CallArgs) {
	a.NumberArrayData = native.Addr(raw[1])
	a.StringArrayData = native.Addr(raw[2])
}

// Encode implements Codec.
func (a *RequestedUpdateArgs) Encode(raw *native.CallArgs) {
	raw[1] = uintptr(a.NumberArrayData)
	raw[2] = uintptr(a.StringArrayData)
}

func (a *RequestedUpdateArgs) reset() { *a = RequestedUpdateArgs{} }

// ReceiveEventArgs carries an input event delivered to an addon.
type ReceiveEventArgs struct {
	base
	EventType  uint16
	EventParam int32
	Event      native.Addr
	Data       native.Addr
}

// Family implements Args.
func (*ReceiveEventArgs) Family() event.Family { return event.ReceiveEvent }

// Decode implements Codec.
func (a *ReceiveEventArgs) Decode(raw native.CallArgs) {
	a.EventType = uint16(raw[1])
	a.EventParam = int32(uint32(raw[2]))
	a.Event = native.Addr(raw[3])
	a.Data = native.Addr(raw[4])
}

// Encode implements Codec.
func (a *ReceiveEventArgs) Encode(raw *native.CallArgs) {
	raw[1] = uintptr(a.EventType)
	raw[2] = uintptr(uint32(a.EventParam))
	raw[3] = uintptr(a.Event)
	raw[4] = uintptr(a.Data)
}

func (a *ReceiveEventArgs) reset() { *a = ReceiveEventArgs{} }

// ShowArgs carries the parameters of an addon show.
type ShowArgs struct {
	base
	OpenSilently       bool
	UnsetShowHideFlags uint32
}

// Family implements Args.
func (*ShowArgs) Family() event.Family { return event.Show }

// Decode implements Codec.
func (a *ShowArgs) Decode(raw native.CallArgs) {
	a.OpenSilently = native.Bool(raw[1])
	a.UnsetShowHideFlags = uint32(raw[2])
}

// Encode implements Codec.
func (a *ShowArgs) Encode(raw *native.CallArgs) {
	raw[1] = native.FromBool(a.OpenSilently)
	raw[2] = uintptr(a.UnsetShowHideFlags)
}

func (a *ShowArgs) reset() { *a = ShowArgs{} }

// HideArgs carries the parameters of an addon hide.
type HideArgs struct {
	base
	CallHideCallback bool
	SetShowHideFlags uint32
}

// Family implements Args.
func (*HideArgs) Family() event.Family { return event.Hide }

// Decode implements Codec.
func (a *HideArgs) Decode(raw native.CallArgs) {
	a.CallHideCallback = native.Bool(raw[1])
	a.SetShowHideFlags = uint32(raw[2])
}

// Encode implements Codec.
func (a *HideArgs) Encode(raw *native.CallArgs) {
	raw[1] = native.FromBool(a.CallHideCallback)
	raw[2] = uintptr(a.SetShowHideFlags)
}

func (a *HideArgs) reset() { *a = HideArgs{} }

// OpenArgs carries the depth layer an addon opens on.
type OpenArgs struct {
	base
	DepthLayer uint32
}

// Family implements Args.
func (*OpenArgs) Family() event.Family { return event.Open }

// Decode implements Codec.
func (a *OpenArgs) Decode(raw native.CallArgs) { a.DepthLayer = uint32(raw[1]) }

// Encode implements Codec.
func (a *OpenArgs) Encode(raw *native.CallArgs) { raw[1] = uintptr(a.DepthLayer) }

func (a *OpenArgs) reset() { *a = OpenArgs{} }

// CloseArgs carries whether the close callback fires.
type CloseArgs struct {
	base
	FireCallback bool
}

// Family implements Args.
func (*CloseArgs) Family() event.Family { return event.Close }

// Decode implements Codec.
func (a *CloseArgs) Decode(raw native.CallArgs) { a.FireCallback = native.Bool(raw[1]) }

// Encode implements Codec.
func (a *CloseArgs) Encode(raw *native.CallArgs) { raw[1] = native.FromBool(a.FireCallback) }

func (a *CloseArgs) reset() { *a = CloseArgs{} }

// FinalizeArgs is delivered once when an addon is being torn down.
type FinalizeArgs struct {
	base
}

// Family implements Args.
func (*FinalizeArgs) Family() event.Family { return event.Finalize }

// Decode implements Codec. Finalize carries no parameters.
func (*FinalizeArgs) Decode(native.CallArgs) {}

// Encode implements Codec.
func (*FinalizeArgs) Encode(*native.CallArgs) {}

func (a *FinalizeArgs) reset() { *a = FinalizeArgs{} }

// GenericArgs is used by families without parameters: Draw, Move,
// MouseOver, MouseOut and Focus.
type GenericArgs struct {
	base
	family event.Family
}

// Family returns the family the instance was rented for.
func (a *GenericArgs) Family() event.Family { return a.family }

// Decode implements Codec. These families carry no parameters.
func (*GenericArgs) Decode(native.CallArgs) {}

// Encode implements Codec.
func (*GenericArgs) Encode(*native.CallArgs) {}

func (a *GenericArgs) reset() { a.base = base{} }
