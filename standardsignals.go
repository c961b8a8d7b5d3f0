package dbus

// NameOwnerChanged is the payload of org.freedesktop.DBus's
// NameOwnerChanged signal, broadcast whenever a bus name gains or
// loses an owner.
type NameOwnerChanged struct {
	Name     string
	OldOwner string
	NewOwner string
}

// NameLost is the payload of org.freedesktop.DBus's NameLost signal,
// sent to a client that just lost ownership of a bus name.
type NameLost struct {
	Name string
}

// NameAcquired is the payload of org.freedesktop.DBus's NameAcquired
// signal, sent to a client that just gained ownership of a bus name.
type NameAcquired struct {
	Name string
}

// ActivatableServicesChanged is the payload of org.freedesktop.DBus's
// ActivatableServicesChanged signal.
type ActivatableServicesChanged struct{}

// PropertiesChanged is the payload of
// org.freedesktop.DBus.Properties's PropertiesChanged signal.
//
// Conn decodes and redistributes PropertiesChanged signals to
// Watchers itself, matching each changed or invalidated property
// against the type given to [RegisterPropertyChangeType]. This type
// is used only as the fallback decode target for watchers that ask
// for the signal in its raw form.
type PropertiesChanged struct {
	InterfaceName         string
	ChangedProperties     map[string]Variant
	InvalidatedProperties []string
}

// InterfacesAdded is the payload of
// org.freedesktop.DBus.ObjectManager's InterfacesAdded signal.
type InterfacesAdded struct {
	Path       ObjectPath
	Interfaces map[string]map[string]Variant
}

// InterfacesRemoved is the payload of
// org.freedesktop.DBus.ObjectManager's InterfacesRemoved signal.
type InterfacesRemoved struct {
	Path       ObjectPath
	Interfaces []string
}
