package dbus

import (
	"context"
	"reflect"
	"strings"

	"github.com/gopherbus/dbus/fragments"
)

// ObjectPath is a slash-rooted path identifying an object within a
// peer, e.g. "/org/freedesktop/DBus".
type ObjectPath string

func (p ObjectPath) MarshalDBus(ctx context.Context, st *fragments.Encoder) error {
	if err := validateObjectPath(string(p)); err != nil {
		return err
	}
	st.Value(ctx, string(p))
	return nil
}

func (p *ObjectPath) UnmarshalDBus(ctx context.Context, st *fragments.Decoder) error {
	var s string
	if err := st.Value(ctx, &s); err != nil {
		return err
	}
	if err := validateObjectPath(s); err != nil {
		return InvalidMessageError{Reason: err}
	}
	*p = ObjectPath(s)
	return nil
}

func (p ObjectPath) IsDBusStruct() bool { return false }

var objectPathSignature = mkSignature(reflect.TypeFor[ObjectPath](), "o")

func (p ObjectPath) SignatureDBus() Signature { return objectPathSignature }

func (p ObjectPath) String() string { return string(p) }

// Clean returns p with a trailing slash removed, unless p is the root
// path "/".
func (p ObjectPath) Clean() ObjectPath {
	if p == "/" || !strings.HasSuffix(string(p), "/") {
		return p
	}
	return p[:len(p)-1]
}

// IsChildOf reports whether p is equal to prefix or nested under it.
//
// For example, ObjectPath("/a/b").IsChildOf("/a") is true, as is
// ObjectPath("/a").IsChildOf("/a"), but
// ObjectPath("/ab").IsChildOf("/a") is false.
func (p ObjectPath) IsChildOf(prefix ObjectPath) bool {
	p, prefix = p.Clean(), prefix.Clean()
	if p == prefix {
		return true
	}
	if prefix == "/" {
		return strings.HasPrefix(string(p), "/")
	}
	return strings.HasPrefix(string(p), string(prefix)+"/")
}

// validateObjectPath reports whether s is a syntactically valid DBus
// object path: "/" or a "/"-separated sequence of non-empty segments
// drawn from [A-Za-z0-9_], with no trailing slash.
func validateObjectPath(s string) error {
	if s == "" || s[0] != '/' {
		return InvalidObjectPathError{s}
	}
	if s == "/" {
		return nil
	}
	if strings.HasSuffix(s, "/") {
		return InvalidObjectPathError{s}
	}
	for _, seg := range strings.Split(s[1:], "/") {
		if seg == "" {
			return InvalidObjectPathError{s}
		}
		for _, r := range seg {
			if !isPathSegmentByte(r) {
				return InvalidObjectPathError{s}
			}
		}
	}
	return nil
}

func isPathSegmentByte(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
