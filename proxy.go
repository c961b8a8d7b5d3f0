package dbus

import (
	"context"
	"fmt"
	"strings"
)

// Proxy is a typed view of a remote object, built from its
// introspection data.
//
// Unlike the low-level Object/Interface Call API, a Proxy validates a
// method call's argument arity and types against the object's
// introspected signature before sending anything, returning a
// [SignatureBodyMismatchError] rather than letting a malformed
// request reach the wire.
type Proxy struct {
	o    Object
	desc *ObjectDescription
}

// Proxy introspects o and returns a Proxy for it.
func (o Object) Proxy(ctx context.Context, opts ...CallOption) (*Proxy, error) {
	desc, err := o.Introspect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Proxy{o: o, desc: desc}, nil
}

// Object returns the Object the Proxy describes.
func (p *Proxy) Object() Object { return p.o }

// Description returns the introspection data the Proxy was built
// from.
func (p *Proxy) Description() *ObjectDescription { return p.desc }

// Interface returns a ProxyInterface for the named interface.
//
// Interface returns an [InterfaceNotFoundError] if the Proxy's
// introspection data does not describe an interface with that name.
func (p *Proxy) Interface(name string) (*ProxyInterface, error) {
	desc, ok := p.desc.Interfaces[name]
	if !ok {
		return nil, InterfaceNotFoundError{name}
	}
	return &ProxyInterface{
		f:    p.o.Interface(name),
		desc: desc,
	}, nil
}

// ProxyInterface is a typed view of a single interface offered by a
// Proxy's object.
type ProxyInterface struct {
	f    Interface
	desc *InterfaceDescription
}

// Interface returns the underlying low-level Interface handle, for
// callers that need the escape hatch of an unvalidated Call.
func (f *ProxyInterface) Interface() Interface { return f.f }

// Name returns the name of the interface.
func (f *ProxyInterface) Name() string { return f.desc.Name }

// Description returns the introspection data the ProxyInterface was
// built from.
func (f *ProxyInterface) Description() *InterfaceDescription { return f.desc }

// Call calls method with body and writes the response into response,
// as [Interface.Call] does.
//
// Call first validates body's arity and types against the method's
// "in" arguments as declared by the Proxy's introspection data,
// returning a [SignatureBodyMismatchError] without sending anything
// if they don't match. If the method is declared NoReply, Call sends
// it with [Interface.OneWay] instead, ignoring response.
func (f *ProxyInterface) Call(ctx context.Context, method string, body any, response any, opts ...CallOption) error {
	m, err := f.method(method)
	if err != nil {
		return err
	}
	if err := checkBodySignature(m, body); err != nil {
		return err
	}
	if m.NoReply {
		return f.f.OneWay(ctx, method, body, opts...)
	}
	return f.f.Call(ctx, method, body, response, opts...)
}

func (f *ProxyInterface) method(name string) (*MethodDescription, error) {
	for _, m := range f.desc.Methods {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("method %s not found on interface %s", name, f.desc.Name)
}

// GetProperty reads the value of the given property into val, as
// [Interface.GetProperty] does, after checking that the property is
// declared readable.
func (f *ProxyInterface) GetProperty(ctx context.Context, name string, val any, opts ...CallOption) error {
	p, err := f.property(name)
	if err != nil {
		return err
	}
	if !p.Readable {
		return fmt.Errorf("property %s on interface %s is not readable", name, f.desc.Name)
	}
	return f.f.GetProperty(ctx, name, val, opts...)
}

// SetProperty sets the given property to value, as
// [Interface.SetProperty] does, after checking that the property is
// declared writable and that value's type matches the property's
// introspected type.
func (f *ProxyInterface) SetProperty(ctx context.Context, name string, value any, opts ...CallOption) error {
	p, err := f.property(name)
	if err != nil {
		return err
	}
	if !p.Writable {
		return fmt.Errorf("property %s on interface %s is not writable", name, f.desc.Name)
	}
	got, err := SignatureOf(value)
	if err != nil {
		return err
	}
	if got.String() != p.Type.String() {
		return SignatureBodyMismatchError{
			Signature: got,
			Reason:    fmt.Errorf("property %s has type %s, got %s", name, p.Type, got),
		}
	}
	return f.f.SetProperty(ctx, name, value, opts...)
}

// GetAllProperties returns all the properties exported by the
// interface, as [Interface.GetAllProperties] does.
func (f *ProxyInterface) GetAllProperties(ctx context.Context, opts ...CallOption) (map[string]any, error) {
	return f.f.GetAllProperties(ctx, opts...)
}

func (f *ProxyInterface) property(name string) (*PropertyDescription, error) {
	for _, p := range f.desc.Properties {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("property %s not found on interface %s", name, f.desc.Name)
}

// checkBodySignature reports a [SignatureBodyMismatchError] if body's
// DBus signature does not match the concatenation of m's "in"
// argument types.
func checkBodySignature(m *MethodDescription, body any) error {
	want := expectedBodySignature(m)
	if body == nil {
		if want != "" {
			return SignatureBodyMismatchError{Reason: fmt.Errorf("method %s expects arguments (%s), got none", m.Name, want)}
		}
		return nil
	}
	got, err := SignatureOf(body)
	if err != nil {
		return err
	}
	gotBody := got.asMsgBody()
	if gotBody.String() != want {
		return SignatureBodyMismatchError{
			Signature: got,
			Reason:    fmt.Errorf("method %s expects arguments (%s), got (%s)", m.Name, want, gotBody),
		}
	}
	return nil
}

func expectedBodySignature(m *MethodDescription) string {
	var b strings.Builder
	for _, arg := range m.In {
		b.WriteString(arg.Type.String())
	}
	return b.String()
}
