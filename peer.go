package dbus

import (
	"context"
	"strings"
)

type Peer struct {
	c    *Conn
	name string
}

func (p Peer) Ping(ctx context.Context, opts ...CallOption) error {
	return p.Conn().call(ctx, p.name, "/", "org.freedesktop.DBus.Peer", "Ping", nil, nil, opts...)
}

func (p Peer) Conn() *Conn  { return p.c }
func (p Peer) Name() string { return p.name }

func (p Peer) String() string {
	if p.c == nil {
		return "<no peer>"
	}
	return p.name
}

func (p Peer) Object(path ObjectPath) Object {
	return Object{
		p:    p,
		path: path,
	}
}

// Compare orders two Peers by name, for use with [slices.SortFunc].
func (p Peer) Compare(o Peer) int {
	return strings.Compare(p.name, o.name)
}

// IsUniqueName reports whether p's name is a unique connection name
// (of the form ":1.42") rather than a well-known bus name.
func (p Peer) IsUniqueName() bool {
	return strings.HasPrefix(p.name, ":")
}

// Identity returns p's connection credentials, as reported by the
// bus.
func (p Peer) Identity(ctx context.Context) (*PeerCredentials, error) {
	return p.c.GetPeerCredentials(ctx, p.name)
}

// UID returns the unix user ID of p, as reported by the bus.
//
// Deprecated: use [Peer.Identity] instead, it returns additional
// information and is more efficient when several pieces of identity
// information are needed.
func (p Peer) UID(ctx context.Context) (uint32, error) {
	return p.c.GetPeerUID(ctx, p.name)
}

// PID returns the unix process ID of p, as reported by the bus.
//
// Deprecated: use [Peer.Identity] instead, it returns additional
// information and is more efficient when several pieces of identity
// information are needed.
func (p Peer) PID(ctx context.Context) (uint32, error) {
	return p.c.GetPeerPID(ctx, p.name)
}

// Exists reports whether p currently has an owner on the bus.
func (p Peer) Exists(ctx context.Context) (bool, error) {
	return p.c.NameHasOwner(ctx, p.name)
}

// Owner returns the Peer that currently owns p's name.
//
// If p's name is itself a unique connection name, Owner returns p
// unchanged without consulting the bus.
func (p Peer) Owner(ctx context.Context) (Peer, error) {
	if p.IsUniqueName() {
		return p, nil
	}
	name, err := p.c.GetNameOwner(ctx, p.name)
	if err != nil {
		return Peer{}, err
	}
	return p.c.Peer(name), nil
}

// QueuedOwners returns the ordered queue of connections waiting to
// own p's name, starting with the current owner if any.
func (p Peer) QueuedOwners(ctx context.Context) ([]Peer, error) {
	names, err := p.c.ListQueuedOwners(ctx, p.name)
	if err != nil {
		return nil, err
	}
	ret := make([]Peer, 0, len(names))
	for _, n := range names {
		ret = append(ret, p.c.Peer(n))
	}
	return ret, nil
}
