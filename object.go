package dbus

import (
	"context"
	"fmt"
	"maps"
	"strings"
)

type Object struct {
	p    Peer
	path ObjectPath
}

func (o Object) Conn() *Conn      { return o.p.Conn() }
func (o Object) Peer() Peer       { return o.p }
func (o Object) Path() ObjectPath { return o.path }

func (o Object) String() string {
	return fmt.Sprintf("%s%s", o.p, o.path)
}

// Compare orders two Objects by peer name then path, for use with
// [slices.SortFunc] and similar.
func (o Object) Compare(other Object) int {
	if c := o.p.Compare(other.p); c != 0 {
		return c
	}
	return strings.Compare(string(o.path), string(other.path))
}

// Child returns the Object for the child of o named name. name must
// be a single path segment, not a full path.
func (o Object) Child(name string) Object {
	if o.path == "/" {
		return o.p.Object(ObjectPath("/" + name))
	}
	return o.p.Object(o.path.Clean() + "/" + ObjectPath(name))
}

func (o Object) Interface(name string) Interface {
	return Interface{
		o:    o,
		name: name,
	}
}

// Introspect queries o's introspection data and returns it parsed
// into an [ObjectDescription].
func (o Object) Introspect(ctx context.Context, opts ...CallOption) (*ObjectDescription, error) {
	var resp string
	if err := o.Conn().call(ctx, o.p.name, o.path, "org.freedesktop.DBus.Introspectable", "Introspect", nil, &resp, opts...); err != nil {
		return nil, err
	}
	return parseIntrospection(resp)
}

func (o Object) Interfaces(ctx context.Context, opts ...CallOption) ([]Interface, error) {
	names, err := GetProperty[[]string](ctx, o.Interface("org.freedesktop.DBus"), "Interfaces", opts...)
	if err != nil {
		return nil, err
	}
	ret := make([]Interface, 0, len(names))
	for _, n := range names {
		ret = append(ret, o.Interface(n))
	}
	return ret, nil
}

func (o Object) ManagedObjects(ctx context.Context, opts ...CallOption) (map[Object][]Interface, error) {
	// object path -> interface name -> map[property name]value
	var resp map[ObjectPath]map[string]map[string]Variant
	err := o.Conn().call(ctx, o.p.name, o.path, "org.freedesktop.DBus.ObjectManager", "GetManagedObjects", nil, &resp, opts...)
	if err != nil {
		return nil, err
	}
	ret := make(map[Object][]Interface, len(resp))
	for path, ifs := range resp {
		// TODO: validate that path is a subpath of the current object
		child := o.Peer().Object(path)
		ifaces := make([]Interface, 0, len(ifs))
		for ifname := range maps.Keys(ifs) {
			ifaces = append(ifaces, child.Interface(ifname))
		}
		ret[o.Peer().Object(path)] = ifaces
	}
	return ret, nil
}
