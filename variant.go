package dbus

import (
	"context"
	"fmt"
	"reflect"

	"github.com/gopherbus/dbus/fragments"
)

// A Variant holds a DBus value along with a runtime signature, for use
// in positions where the wire protocol allows any self-describing
// type.
type Variant struct {
	Value any
}

var variantType = reflect.TypeFor[Variant]()

func (v Variant) IsDBusStruct() bool { return false }

func (v Variant) SignatureDBus() Signature { return mustParseSignature("v") }

func (v Variant) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	sig, err := SignatureOf(v.Value)
	if err != nil {
		return fmt.Errorf("getting signature of variant value: %w", err)
	}
	if err := e.Value(ctx, sig); err != nil {
		return fmt.Errorf("writing variant signature: %w", err)
	}
	if err := e.Value(ctx, v.Value); err != nil {
		return fmt.Errorf("writing variant value: %w", err)
	}
	return nil
}

func (v *Variant) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	var sig Signature
	if err := d.Value(ctx, &sig); err != nil {
		return fmt.Errorf("reading variant signature: %w", err)
	}
	innerValue := sig.Value()
	if !innerValue.IsValid() {
		return fmt.Errorf("unsupported variant type signature %q", sig)
	}
	inner := innerValue.Interface()
	if err := d.Value(ctx, inner); err != nil {
		return fmt.Errorf("reading variant value (signature %q): %w", sig, err)
	}
	v.Value = innerValue.Elem().Interface()
	return nil
}
