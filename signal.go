package dbus

import (
	"fmt"
	"reflect"
	"sync"
)

var (
	signalsMu        sync.Mutex
	signalNameToType = map[signalKey]reflect.Type{}
	signalTypeToName = map[reflect.Type]signalKey{}

	propsMu        sync.Mutex
	propNameToType = map[signalKey]reflect.Type{}
	propTypeToName = map[reflect.Type]signalKey{}
)

type signalKey struct {
	Interface, Signal string
}

// RegisterSignalType registers T as the struct type to use when
// decoding the body of the given signal name.
//
// RegisterSignalType panics if the signal already has a registered
// type.
func RegisterSignalType[T any](interfaceName, signalName string) {
	k := signalKey{interfaceName, signalName}
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		panic(fmt.Errorf("cannot use type %s (%s) as the payload type for signal %s.%s, signal payloads must be structs", t, t.Kind(), k.Interface, k.Signal))
	}
	if _, err := SignatureFor[T](); err != nil {
		panic(fmt.Errorf("cannot use %s as dbus type for signal %s.%s: %w", t, k.Interface, k.Signal, err))
	}
	signalsMu.Lock()
	defer signalsMu.Unlock()
	if prev := signalNameToType[k]; prev != nil {
		panic(fmt.Errorf("duplicate signal type registration for %s.%s, existing registration %s", k.Interface, k.Signal, prev))
	}
	if prev, ok := signalTypeToName[t]; ok {
		panic(fmt.Errorf("duplicate signal type registration for %s, already in use by %s.%s", t, prev.Interface, prev.Signal))
	}
	signalNameToType[k] = t
	signalTypeToName[t] = k
}

// signalTypeFor returns the struct type registered for the given
// signal, or nil if none was registered.
func signalTypeFor(interfaceName, signalName string) reflect.Type {
	signalsMu.Lock()
	defer signalsMu.Unlock()
	return signalNameToType[signalKey{interfaceName, signalName}]
}

// signalNameFor returns the interface and member name that t was
// registered under with RegisterSignalType.
func signalNameFor(t reflect.Type) (interfaceMember, bool) {
	signalsMu.Lock()
	defer signalsMu.Unlock()
	k, ok := signalTypeToName[t]
	if !ok {
		return interfaceMember{}, false
	}
	return interfaceMember{Interface: k.Interface, Member: k.Signal}, true
}

// RegisterPropertyChangeType registers T as the struct type to use
// when reporting a change to the given property through a [Watcher].
//
// RegisterPropertyChangeType panics if the property already has a
// registered type.
func RegisterPropertyChangeType[T any](interfaceName, propertyName string) {
	k := signalKey{interfaceName, propertyName}
	t := reflect.TypeFor[T]()
	if _, err := SignatureFor[T](); err != nil {
		panic(fmt.Errorf("cannot use %s as dbus type for property %s.%s: %w", t, k.Interface, k.Signal, err))
	}
	propsMu.Lock()
	defer propsMu.Unlock()
	if prev := propNameToType[k]; prev != nil {
		panic(fmt.Errorf("duplicate property change type registration for %s.%s, existing registration %s", k.Interface, k.Signal, prev))
	}
	if prev, ok := propTypeToName[t]; ok {
		panic(fmt.Errorf("duplicate property change type registration for %s, already in use by %s.%s", t, prev.Interface, prev.Signal))
	}
	propNameToType[k] = t
	propTypeToName[t] = k
}

// propTypeFor returns the type registered for the given property
// change, or nil if none was registered.
func propTypeFor(interfaceName, propertyName string) reflect.Type {
	propsMu.Lock()
	defer propsMu.Unlock()
	return propNameToType[signalKey{interfaceName, propertyName}]
}

// propNameFor returns the interface and property name that t was
// registered under with RegisterPropertyChangeType.
func propNameFor(t reflect.Type) (interfaceMember, bool) {
	propsMu.Lock()
	defer propsMu.Unlock()
	k, ok := propTypeToName[t]
	if !ok {
		return interfaceMember{}, false
	}
	return interfaceMember{Interface: k.Interface, Member: k.Signal}, true
}
