package dbus

import "context"

// Call invokes method on iface with body as the request, and returns
// a freshly allocated RespT holding the decoded response.
//
// It is a convenience wrapper around [Interface.Call] for methods
// that return exactly one value.
func Call[RespT, ReqT any](ctx context.Context, iface Interface, method string, body ReqT, opts ...CallOption) (RespT, error) {
	var resp RespT
	err := iface.Call(ctx, method, body, &resp, opts...)
	return resp, err
}

// GetProperty reads the named property from iface, returning a
// freshly allocated T holding the decoded value.
//
// It is a convenience wrapper around [Interface.GetProperty].
func GetProperty[T any](ctx context.Context, iface Interface, name string, opts ...CallOption) (T, error) {
	var val T
	err := iface.GetProperty(ctx, name, &val, opts...)
	return val, err
}
