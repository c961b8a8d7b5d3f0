package dbus

import (
	"fmt"
	"reflect"
)

// TypeError is the error returned when a type cannot be represented
// in the DBus wire format.
type TypeError struct {
	// Type is the name of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable by
	// DBus.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("dbus cannot represent %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error {
	return e.Reason
}

func typeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}

// CallError is the error returned from failed DBus method calls, when
// the remote peer replies with an ERROR message rather than a
// METHOD_RETURN.
type CallError struct {
	// Name is the error name provided by the remote peer, e.g.
	// "org.freedesktop.DBus.Error.UnknownMethod".
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call error %s", e.Name)
	}
	return fmt.Sprintf("call error %s: %s", e.Name, e.Detail)
}

// InvalidSignatureError reports a malformed DBus type signature
// string.
type InvalidSignatureError struct {
	Signature string
	Reason    error
}

func (e InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid type signature %q: %s", e.Signature, e.Reason)
}

func (e InvalidSignatureError) Unwrap() error { return e.Reason }

// SignatureBodyMismatchError reports that a value being marshalled
// does not conform to its declared signature.
type SignatureBodyMismatchError struct {
	Signature Signature
	Reason    error
}

func (e SignatureBodyMismatchError) Error() string {
	return fmt.Sprintf("value does not conform to signature %q: %s", e.Signature, e.Reason)
}

func (e SignatureBodyMismatchError) Unwrap() error { return e.Reason }

// InvalidAddressError reports a malformed DBus server address string.
type InvalidAddressError struct {
	Address string
	Reason  string
}

func (e InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid bus address %q: %s", e.Address, e.Reason)
}

// AuthError reports a SASL handshake failure.
type AuthError struct {
	Reason string
}

func (e AuthError) Error() string {
	return fmt.Sprintf("dbus authentication failed: %s", e.Reason)
}

// InvalidMessageError reports a malformed incoming wire message. A
// connection that receives one of these closes itself, since the
// byte stream can no longer be trusted to be aligned on message
// boundaries.
type InvalidMessageError struct {
	Reason error
}

func (e InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid dbus message: %s", e.Reason)
}

func (e InvalidMessageError) Unwrap() error { return e.Reason }

// InvalidIntrospectionError reports a schema violation in introspection XML.
type InvalidIntrospectionError struct {
	Reason string
}

func (e InvalidIntrospectionError) Error() string {
	return fmt.Sprintf("invalid introspection document: %s", e.Reason)
}

// InvalidBusNameError reports a bus name that does not conform to the
// DBus bus name grammar.
type InvalidBusNameError struct {
	Name string
}

func (e InvalidBusNameError) Error() string {
	return fmt.Sprintf("invalid bus name %q", e.Name)
}

// InvalidObjectPathError reports an object path that does not conform
// to the DBus object path grammar.
type InvalidObjectPathError struct {
	Path string
}

func (e InvalidObjectPathError) Error() string {
	return fmt.Sprintf("invalid object path %q", e.Path)
}

// InvalidInterfaceNameError reports an interface name that does not
// conform to the DBus interface name grammar.
type InvalidInterfaceNameError struct {
	Name string
}

func (e InvalidInterfaceNameError) Error() string {
	return fmt.Sprintf("invalid interface name %q", e.Name)
}

// InvalidMemberNameError reports a method, signal or property name
// that does not conform to the DBus member name grammar.
type InvalidMemberNameError struct {
	Name string
}

func (e InvalidMemberNameError) Error() string {
	return fmt.Sprintf("invalid member name %q", e.Name)
}

// InterfaceNotFoundError reports that a proxy's introspection data
// does not describe the requested interface.
type InterfaceNotFoundError struct {
	Interface string
}

func (e InterfaceNotFoundError) Error() string {
	return fmt.Sprintf("interface %q not found in introspection data", e.Interface)
}

// SignalDisabledError reports that a proxy method was asked to
// subscribe to a signal that its introspection data does not
// describe as available.
type SignalDisabledError struct {
	Interface, Signal string
}

func (e SignalDisabledError) Error() string {
	return fmt.Sprintf("signal %s.%s is not offered by this interface", e.Interface, e.Signal)
}

// ExportConflictError reports a conflicting call to [Conn.Export] or
// [Conn.Unexport]: exporting an interface that is already exported at
// a path, or unexporting one that isn't.
type ExportConflictError struct {
	Path      ObjectPath
	Interface string
	Unexport  bool
}

func (e ExportConflictError) Error() string {
	if e.Unexport {
		return fmt.Sprintf("interface %s is not exported at %s", e.Interface, e.Path)
	}
	return fmt.Sprintf("interface %s is already exported at %s", e.Interface, e.Path)
}
