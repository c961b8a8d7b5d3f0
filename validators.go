package dbus

import "strings"

// validateBusName reports whether s is a syntactically valid DBus bus
// name: dot-separated segments of [A-Za-z_-][A-Za-z0-9_-]*, at least
// two segments unless s is a unique name (starts with ':'), at most
// 255 bytes.
func validateBusName(s string) error {
	if s == "" || len(s) > 255 {
		return InvalidBusNameError{s}
	}

	unique := s[0] == ':'
	body := s
	if unique {
		body = s[1:]
		if body == "" {
			return InvalidBusNameError{s}
		}
	}

	segs := strings.Split(body, ".")
	if !unique && len(segs) < 2 {
		return InvalidBusNameError{s}
	}
	for _, seg := range segs {
		if seg == "" {
			return InvalidBusNameError{s}
		}
		for j, r := range seg {
			if isBusNameStartByte(r, unique) {
				continue
			}
			if j > 0 && isBusNameBodyByte(r) {
				continue
			}
			return InvalidBusNameError{s}
		}
	}
	return nil
}

func isBusNameStartByte(r rune, unique bool) bool {
	if r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
		return true
	}
	// Unique names may start segments with a digit.
	return unique && r >= '0' && r <= '9'
}

func isBusNameBodyByte(r rune) bool {
	return r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// validateInterfaceName reports whether s is a syntactically valid
// DBus interface name: at least two dot-separated segments of
// [A-Za-z_][A-Za-z0-9_]*, at most 255 bytes.
func validateInterfaceName(s string) error {
	if s == "" || len(s) > 255 {
		return InvalidInterfaceNameError{s}
	}
	segs := strings.Split(s, ".")
	if len(segs) < 2 {
		return InvalidInterfaceNameError{s}
	}
	for _, seg := range segs {
		if !validateNameSegment(seg) {
			return InvalidInterfaceNameError{s}
		}
	}
	return nil
}

// validateMemberName reports whether s is a syntactically valid DBus
// member (method, signal or property) name: a single segment of
// [A-Za-z_][A-Za-z0-9_]*, at most 255 bytes.
func validateMemberName(s string) error {
	if s == "" || len(s) > 255 || !validateNameSegment(s) {
		return InvalidMemberNameError{s}
	}
	return nil
}

func validateNameSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for i, r := range seg {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}
