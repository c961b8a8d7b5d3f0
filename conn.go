package dbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log"
	"maps"
	"net"
	"os"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/gopherbus/dbus/fragments"
	"github.com/gopherbus/dbus/transport"
)

// defaultSystemBusAddress is the well-known location of the system
// bus socket, used when $DBUS_SYSTEM_BUS_ADDRESS is unset.
const defaultSystemBusAddress = "unix:path=/var/run/dbus/system_bus_socket"

// SystemBus connects to the system bus.
func SystemBus(ctx context.Context) (*Conn, error) {
	addr := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS")
	if addr == "" {
		addr = defaultSystemBusAddress
	}
	return Dial(ctx, addr)
}

// SessionBus connects to the current user's session bus.
func SessionBus(ctx context.Context) (*Conn, error) {
	addr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if addr == "" {
		return nil, errors.New("session bus not available: DBUS_SESSION_BUS_ADDRESS is not set")
	}
	return Dial(ctx, addr)
}

// Dial connects to the bus at the given DBus server address, which
// may list several semicolon-separated transport descriptors (see
// the DBus address grammar). Dial tries each descriptor in turn and
// uses the first that connects and authenticates successfully.
func Dial(ctx context.Context, address string) (*Conn, error) {
	t, err := transport.Dial(ctx, address)
	if err != nil {
		var addrErr transport.AddressError
		if errors.As(err, &addrErr) {
			return nil, InvalidAddressError{addrErr.Address, addrErr.Reason}
		}
		var authErr transport.AuthError
		if errors.As(err, &authErr) {
			return nil, AuthError{authErr.Reason}
		}
		return nil, err
	}
	return newConnFromTransport(ctx, t)
}

func newConnFromTransport(ctx context.Context, t transport.Transport) (*Conn, error) {
	ret := &Conn{
		t: t,
		enc: fragments.Encoder{
			Order:  fragments.NativeEndian,
			Mapper: encoderForMapper,
		},
		calls:     map[uint32]*pendingCall{},
		builtins:  map[interfaceMember]handlerFunc{},
		exports:   map[ObjectPath]map[string]*exportedInterface{},
		watchers:  mapset.New[*Watcher](),
		claims:    mapset.New[*Claim](),
		matchRefs: map[string]int{},
	}
	ret.bus = ret.
		Peer("org.freedesktop.DBus").
		Object("/org/freedesktop/DBus")

	go ret.readLoop()

	if err := ret.bus.Interface(ifaceBus).Call(ctx, "Hello", nil, &ret.clientID); err != nil {
		ret.Close()
		return nil, fmt.Errorf("getting DBus client ID: %w", err)
	}

	// Implement the Peer interface, on all objects. Every DBus object
	// answers Peer calls regardless of whether anything has been
	// exported at its path, so these go through the bus-wide builtins
	// table rather than the per-path export table.
	ret.Handle(ifacePeer, "Ping", func(context.Context, ObjectPath) error {
		return nil
	})
	uuid := sync.OnceValues(func() (string, error) {
		bs, err := os.ReadFile("/etc/machine-id")
		if errors.Is(err, fs.ErrNotExist) {
			bs, err = os.ReadFile("/var/lib/dbus/machine-id")
		}
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bs)), nil
	})
	ret.Handle(ifacePeer, "GetMachineId", func(context.Context, ObjectPath) (string, error) {
		return uuid()
	})

	return ret, nil
}

// Conn is a DBus connection.
type Conn struct {
	t        transport.Transport
	clientID string

	bus Object

	writeMu sync.Mutex
	enc     fragments.Encoder
	encBody []byte
	encHdr  []byte

	mu         sync.Mutex
	closed     bool
	calls      map[uint32]*pendingCall
	lastSerial uint32
	watchers   mapset.Set[*Watcher]
	claims     mapset.Set[*Claim]
	// builtins holds handlers for interfaces that every object
	// implements regardless of what has been exported at its path,
	// such as org.freedesktop.DBus.Peer.
	builtins map[interfaceMember]handlerFunc
	// exports holds the path-scoped interfaces registered with
	// Export. A given (path, interface) pair appears at most once;
	// Export rejects re-exporting one that is already present.
	exports map[ObjectPath]map[string]*exportedInterface
	// matchRefs counts the number of Watchers that have requested a
	// given AddMatch filter string, so that the filter is only
	// registered with the bus once and removed once no Watcher needs
	// it any more.
	matchRefs map[string]int
}

const (
	ifaceBus            = "org.freedesktop.DBus"
	ifaceProps          = "org.freedesktop.DBus.Properties"
	ifaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	ifacePeer           = "org.freedesktop.DBus.Peer"
)

const (
	errUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	errUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	errUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
)

// addMatch registers m's filter with the bus, unless another Watcher
// has already requested the same filter.
func (c *Conn) addMatch(ctx context.Context, m *Match) error {
	filter := m.filterString()

	c.mu.Lock()
	refs := c.matchRefs[filter]
	c.matchRefs[filter] = refs + 1
	c.mu.Unlock()
	if refs > 0 {
		return nil
	}

	if err := c.bus.Interface(ifaceBus).Call(ctx, "AddMatch", filter, nil); err != nil {
		c.mu.Lock()
		c.matchRefs[filter]--
		c.mu.Unlock()
		return err
	}
	return nil
}

// removeMatch releases one reference on m's filter, asking the bus to
// drop the filter entirely once no Watcher needs it any more.
func (c *Conn) removeMatch(ctx context.Context, m *Match) error {
	filter := m.filterString()

	c.mu.Lock()
	refs := c.matchRefs[filter] - 1
	if refs > 0 {
		c.matchRefs[filter] = refs
		c.mu.Unlock()
		return nil
	}
	delete(c.matchRefs, filter)
	c.mu.Unlock()

	return c.bus.Interface(ifaceBus).Call(ctx, "RemoveMatch", filter, nil)
}

type interfaceMember struct {
	Interface string
	Member    string
}

func (im interfaceMember) String() string {
	return im.Interface + "." + im.Member
}

type pendingCall struct {
	notify chan struct{}
	resp   any
	err    error
}

func (c *Conn) lockedWatchers() iter.Seq[*Watcher] {
	return func(yield func(*Watcher) bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		for w := range c.watchers {
			if !yield(w) {
				return
			}
		}
	}
}

// Close closes the DBus connection.
func (c *Conn) Close() error {
	var (
		pend map[uint32]*pendingCall
		ws   mapset.Set[*Watcher]
		cs   mapset.Set[*Claim]
	)
	{
		c.mu.Lock()
		c.closed = true
		pend, c.calls = c.calls, nil
		ws, c.watchers = c.watchers, nil
		cs, c.claims = c.claims, nil
		c.mu.Unlock()
	}
	for c := range maps.Values(pend) {
		c.err = net.ErrClosed
		close(c.notify)
	}
	for w := range ws {
		w.Close()
	}
	for c := range cs {
		c.Close()
	}
	return c.t.Close()
}

// LocalName returns the connection's unique bus name.
func (c *Conn) LocalName() string {
	return c.clientID
}

// Peer returns a Peer for the given bus name.
//
// The returned value is a purely local handle. It does not indicate
// that the requested peer exists, or that it is currently reachable.
func (c *Conn) Peer(name string) Peer {
	return Peer{
		c:    c,
		name: name,
	}
}

func (c *Conn) writeMsg(ctx context.Context, hdr *header, body any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var files []*os.File
	c.encBody = c.encBody[:0]
	if body != nil {
		bodyCtx := withContextHeader(ctx, c, hdr)
		bodyCtx = withContextPutFiles(bodyCtx, &files)
		c.enc.Out = c.encBody
		if err := c.enc.Value(bodyCtx, body); err != nil {
			return err
		}
		sig, err := SignatureOf(body)
		if err != nil {
			return err
		}
		hdr.Length = uint32(len(c.enc.Out))
		hdr.Signature = sig.asMsgBody()
		hdr.NumFDs = uint32(len(files))
		c.encBody = c.enc.Out
	}

	c.enc.Out = c.encHdr[:0]
	if err := c.enc.Value(ctx, hdr); err != nil {
		return err
	}
	c.encHdr = c.enc.Out

	if _, err := c.t.WriteWithFiles(c.encHdr, files); err != nil {
		return err
	}
	if _, err := c.t.Write(c.encBody); err != nil {
		return err
	}

	return nil
}

func (c *Conn) readLoop() {
	for {
		err := c.dispatchMsg()
		if errors.Is(err, net.ErrClosed) {
			// Conn was shut down.
			return
		}
		if err == nil {
			continue
		}
		// Errors that bubble out here represent a failure to
		// conform to the DBus protocol, and are fatal to the Conn:
		// the byte stream can no longer be trusted to be aligned on
		// message boundaries.
		log.Printf("read error: %v", err)
		c.Close()
		return
	}
}

type msg struct {
	header
	order fragments.ByteOrder
	body  []byte
	files []*os.File
}

func (m msg) Decoder() *fragments.Decoder {
	return &fragments.Decoder{
		Order:  m.order,
		Mapper: decoderForMapper,
		In:     bytes.NewBuffer(m.body),
	}
}

// maxBodyLength is the largest message body readMsg will accept, per
// spec: a declared body length beyond this aborts the connection
// rather than trusting an arbitrarily large read.
const maxBodyLength = 128 * 1024 * 1024

// readMsg reads one complete DBus message from c.t. Must not be
// called concurrently (Conn.dispatchMsg ensures this).
func (c *Conn) readMsg() (*msg, error) {
	dec := fragments.Decoder{
		Order:  fragments.NativeEndian,
		Mapper: decoderForMapper,
		In:     c.t,
	}
	var ret msg
	err := dec.Value(context.Background(), &ret.header)
	if err != nil {
		return nil, err
	}
	if ret.header.Version != 1 {
		return nil, InvalidMessageError{Reason: fmt.Errorf("unsupported protocol version %d", ret.header.Version)}
	}
	if ret.header.Length > maxBodyLength {
		return nil, InvalidMessageError{Reason: fmt.Errorf("message body length %d exceeds maximum of %d", ret.header.Length, maxBodyLength)}
	}
	ret.body, err = io.ReadAll(io.LimitReader(c.t, int64(ret.header.Length)))
	if err != nil {
		return nil, err
	}
	ret.order = dec.Order
	ret.files, err = c.t.GetFiles(int(ret.header.NumFDs))
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Conn) dispatchMsg() error {
	msg, err := c.readMsg()
	if err != nil {
		return err
	}
	if err := msg.Valid(); err != nil {
		return InvalidMessageError{Reason: fmt.Errorf("received invalid header: %w", err)}
	}

	ctx := withContextHeader(context.Background(), c, &msg.header)
	if len(msg.files) > 0 {
		ctx = withContextFiles(ctx, msg.files)
	}

	switch msg.Type {
	case msgTypeCall:
		go c.dispatchCall(ctx, msg)
	case msgTypeReturn:
		return c.dispatchReturn(ctx, msg)
	case msgTypeError:
		return c.dispatchErr(msg)
	case msgTypeSignal:
		return c.dispatchSignal(ctx, msg)
	}
	return nil
}

// dispatchFailure carries the DBus error name and human-readable detail
// to send back for a call that could not be routed to a handler.
type dispatchFailure struct {
	name   string
	detail string
}

func (c *Conn) dispatchCall(ctx context.Context, msg *msg) {
	var (
		handler handlerFunc
		derr    *dispatchFailure
		serial  uint32
	)
	func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		c.lastSerial++
		serial = c.lastSerial
		handler, derr = c.lookupHandlerLocked(msg.Path, msg.Interface, msg.Member)
	}()

	respHdr := &header{
		Type:        msgTypeReturn,
		Version:     1,
		Serial:      serial,
		Destination: msg.Sender,
		ReplySerial: msg.Serial,
	}
	if handler == nil {
		if derr == nil {
			// Conn was closed between enqueueing this call and
			// dispatching it.
			return
		}
		respHdr.Type = msgTypeError
		respHdr.ErrName = derr.name
		c.writeMsg(ctx, respHdr, derr.detail)
		return
	}

	resp, err := handler(ctx, msg.Path, msg.Decoder())
	if err != nil {
		respHdr.Type = msgTypeError
		var detail string
		if ce, ok := err.(CallError); ok {
			respHdr.ErrName = ce.Name
			detail = ce.Detail
		} else {
			respHdr.ErrName = "org.freedesktop.DBus.Error.Failed"
			detail = err.Error()
		}
		c.writeMsg(ctx, respHdr, detail)
		return
	}
	c.writeMsg(ctx, respHdr, resp)
}

func (c *Conn) dispatchReturn(ctx context.Context, msg *msg) error {
	pending := func() *pendingCall {
		c.mu.Lock()
		defer c.mu.Unlock()
		ret := c.calls[msg.ReplySerial]
		delete(c.calls, msg.ReplySerial)
		return ret
	}()

	if pending == nil {
		// Response to a canceled call
		return nil
	}

	if pending.resp != nil {
		if err := msg.Decoder().Value(ctx, pending.resp); err != nil {
			return err
		}
	}
	close(pending.notify)
	return nil
}

func (c *Conn) dispatchErr(msg *msg) error {
	pending := func() *pendingCall {
		c.mu.Lock()
		defer c.mu.Unlock()
		ret := c.calls[msg.ReplySerial]
		delete(c.calls, msg.ReplySerial)
		return ret
	}()

	if pending == nil {
		// Response to a canceled call
		return nil
	}

	errStr := func() string {
		if msg.Signature.IsZero() {
			return ""
		}
		if s := msg.Signature.String(); s != "s" && !strings.HasPrefix(s, "(s") {
			return ""
		}
		errStr, err := msg.Decoder().String()
		if err != nil {
			return fmt.Sprintf("got error while decoding error detail: %v", err)
		}
		return errStr
	}()

	pending.err = CallError{
		Name:   msg.ErrName,
		Detail: errStr,
	}
	close(pending.notify)
	return nil
}

func (c *Conn) dispatchSignal(ctx context.Context, msg *msg) error {
	var propErr error
	if msg.Interface == "org.freedesktop.DBus.Properties" && msg.Member == "PropertiesChanged" {
		propErr = c.dispatchPropChange(ctx, msg)
	}

	signalType := signalTypeFor(msg.Interface, msg.Member)
	if signalType == nil {
		signalType = msg.Signature.asStruct().Type()
	}
	if signalType == nil {
		signalType = reflect.TypeFor[struct{}]()
	}

	emitter, _ := ContextEmitter(ctx)

	signal := reflect.New(signalType)
	if err := msg.Decoder().Value(ctx, signal.Interface()); err != nil {
		return errors.Join(propErr, err)
	}

	for w := range c.lockedWatchers() {
		w.deliverSignal(emitter, &msg.header, signal)
	}

	return propErr
}

func (c *Conn) dispatchPropChange(ctx context.Context, msg *msg) error {
	// Make a copy of the body decoder, so that dispatchSignal can
	// still do the generic property change dispatch as well.
	body := msg.Decoder()

	iface, err := body.String()
	if err != nil {
		return err
	}

	emitter, _ := ContextEmitter(ctx)
	emitter = emitter.Object().Interface(iface)

	// Decode the change map[string]any by hand, so that we can
	// directly map each variant value to the correct property value
	// directly.
	_, err = body.Array(true, func(i int) error {
		err := body.Struct(func() error {
			propName, err := body.String()
			if err != nil {
				return err
			}
			var propSig Signature
			if err := body.Value(ctx, &propSig); err != nil {
				return err
			}
			t := propTypeFor(iface, propName)
			var v reflect.Value
			if t != nil {
				v = reflect.New(t)
			} else {
				v = reflect.New(propSig.Type())
			}
			if err := body.Value(ctx, v.Interface()); err != nil {
				return err
			}
			if t != nil {
				for w := range c.lockedWatchers() {
					w.deliverProp(emitter, &msg.header, interfaceMember{iface, propName}, v)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	var invalidated []string
	if err := body.Value(ctx, &invalidated); err != nil {
		return err
	}
	for _, prop := range invalidated {
		t := propTypeFor(iface, prop)
		if t == nil {
			continue
		}
		for w := range c.lockedWatchers() {
			w.deliverProp(emitter, &msg.header, interfaceMember{iface, prop}, reflect.New(t))
		}
	}
	return nil
}

// A CallOption adjusts the behavior of a single method call.
type CallOption func(*callOptions)

type callOptions struct {
	noReply bool
	timeout time.Duration
}

// NoReply tells the bus not to send a response to the call. The call
// returns as soon as the request has been written to the
// connection; it carries no information about whether the method was
// received or acted upon.
func NoReply() CallOption {
	return func(o *callOptions) { o.noReply = true }
}

// Timeout bounds how long the call waits for a response, in addition
// to any deadline already present on the call's context.
func Timeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// call calls a remote method over the bus and records the response in
// the provided pointer.
//
// It is the caller's responsibility to supply the correct types of
// request.Body and response for the method being called.
func (c *Conn) call(ctx context.Context, destination string, path ObjectPath, iface, method string, body any, response any, opts ...CallOption) error {
	if response != nil && reflect.TypeOf(response).Kind() != reflect.Pointer {
		return errors.New("response parameter in Call must be a pointer, or nil")
	}

	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	if co.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, co.timeout)
		defer cancel()
	}

	serial, pending := func() (uint32, *pendingCall) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return 0, nil
		}

		c.lastSerial++
		pend := &pendingCall{
			notify: make(chan struct{}, 1),
			resp:   response,
		}
		c.calls[c.lastSerial] = pend
		return c.lastSerial, pend
	}()
	if pending == nil {
		return net.ErrClosed
	}
	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.calls[serial] == pending {
			delete(c.calls, serial)
		}
	}()

	hdr := header{
		Type:        msgTypeCall,
		Flags:       contextCallFlags(ctx),
		Version:     1,
		Serial:      serial,
		Destination: destination,
		Path:        path,
		Interface:   iface,
		Member:      method,
	}
	if co.noReply {
		hdr.Flags |= 0x1
	}
	if err := hdr.Valid(); err != nil {
		return err
	}

	if err := c.writeMsg(context.Background(), &hdr, body); err != nil {
		return err // TODO: close transport?
	}

	if !hdr.WantReply() {
		return nil
	}

	select {
	case <-pending.notify:
		return pending.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmitSignal broadcasts signal from obj.
//
// The signal's type must be registered in advance with
// [RegisterSignalType].
func (c *Conn) EmitSignal(ctx context.Context, obj ObjectPath, signal any) error {
	t := reflect.TypeOf(signal)
	k, ok := signalNameFor(t)
	if !ok {
		return fmt.Errorf("unknown signal type %s", t)
	}
	serial := func() uint32 {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return 0
		}
		c.lastSerial++
		return c.lastSerial
	}()
	hdr := header{
		Type:      msgTypeSignal,
		Version:   1,
		Serial:    serial,
		Path:      obj,
		Interface: k.Interface,
		Member:    k.Member,
	}
	return c.writeMsg(ctx, &hdr, signal)
}

// exportedInterface is one interface's worth of method handlers
// exported at a particular object path.
type exportedInterface struct {
	methods map[string]handlerFunc
}

// lookupHandlerLocked resolves an incoming method call against the
// builtin and exported handler tables. c.mu must be held.
func (c *Conn) lookupHandlerLocked(path ObjectPath, interfaceName, member string) (handlerFunc, *dispatchFailure) {
	if interfaceName == ifaceIntrospectable && member == "Introspect" {
		if !c.pathKnownLocked(path) {
			return nil, &dispatchFailure{errUnknownObject, fmt.Sprintf("no object at %s", path)}
		}
		doc := c.introspectLocked(path)
		return func(context.Context, ObjectPath, *fragments.Decoder) (any, error) {
			return doc, nil
		}, nil
	}

	if interfaceName == "" {
		return c.lookupUnqualifiedLocked(path, member)
	}

	if h := c.builtins[interfaceMember{interfaceName, member}]; h != nil {
		return h, nil
	}

	ifaces, ok := c.exports[path]
	if !ok {
		if c.pathKnownLocked(path) {
			return nil, &dispatchFailure{errUnknownInterface, fmt.Sprintf("no interface %s at %s", interfaceName, path)}
		}
		return nil, &dispatchFailure{errUnknownObject, fmt.Sprintf("no object at %s", path)}
	}
	iface, ok := ifaces[interfaceName]
	if !ok {
		return nil, &dispatchFailure{errUnknownInterface, fmt.Sprintf("no interface %s at %s", interfaceName, path)}
	}
	h, ok := iface.methods[member]
	if !ok {
		return nil, &dispatchFailure{errUnknownMethod, fmt.Sprintf("no method %s on interface %s", member, interfaceName)}
	}
	return h, nil
}

// lookupUnqualifiedLocked resolves a METHOD_CALL that names no
// interface, by accepting a unique match for member across the
// bus-wide builtins and the interfaces exported at path. c.mu must be
// held.
func (c *Conn) lookupUnqualifiedLocked(path ObjectPath, member string) (handlerFunc, *dispatchFailure) {
	var candidates []handlerFunc
	for im, h := range c.builtins {
		if im.Member == member {
			candidates = append(candidates, h)
		}
	}
	for _, iface := range c.exports[path] {
		if h, ok := iface.methods[member]; ok {
			candidates = append(candidates, h)
		}
	}
	switch len(candidates) {
	case 0:
		if c.pathKnownLocked(path) {
			return nil, &dispatchFailure{errUnknownMethod, fmt.Sprintf("no method %s on any interface at %s", member, path)}
		}
		return nil, &dispatchFailure{errUnknownObject, fmt.Sprintf("no object at %s", path)}
	case 1:
		return candidates[0], nil
	default:
		return nil, &dispatchFailure{errUnknownMethod, fmt.Sprintf("method %s is ambiguous across multiple interfaces at %s", member, path)}
	}
}

// pathKnownLocked reports whether path has anything exported on it,
// or is an ancestor of a path that does. c.mu must be held.
func (c *Conn) pathKnownLocked(path ObjectPath) bool {
	if ifaces, ok := c.exports[path]; ok && len(ifaces) > 0 {
		return true
	}
	prefix := string(path)
	if prefix != "/" {
		prefix += "/"
	}
	for p, ifaces := range c.exports {
		if len(ifaces) > 0 && strings.HasPrefix(string(p), prefix) {
			return true
		}
	}
	return false
}

// introspectLocked synthesizes the Introspectable.Introspect reply
// for path from the current export table. c.mu must be held.
func (c *Conn) introspectLocked(path ObjectPath) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN" "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">` + "\n")
	fmt.Fprintf(&b, "<node name=%q>\n", string(path))

	names := slices.Sorted(maps.Keys(c.exports[path]))
	names = append(names, ifaceIntrospectable, ifacePeer)
	slices.Sort(names)
	names = slices.Compact(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  <interface name=%q>\n", name)
		if iface := c.exports[path][name]; iface != nil {
			for _, m := range slices.Sorted(maps.Keys(iface.methods)) {
				fmt.Fprintf(&b, "    <method name=%q/>\n", m)
			}
		}
		b.WriteString("  </interface>\n")
	}

	prefix := string(path)
	if prefix != "/" {
		prefix += "/"
	}
	children := map[string]bool{}
	for p, ifaces := range c.exports {
		s := string(p)
		if len(ifaces) == 0 || !strings.HasPrefix(s, prefix) {
			continue
		}
		seg, _, _ := strings.Cut(strings.TrimPrefix(s, prefix), "/")
		if seg != "" {
			children[seg] = true
		}
	}
	for _, ch := range slices.Sorted(maps.Keys(children)) {
		fmt.Fprintf(&b, "  <node name=%q/>\n", ch)
	}

	b.WriteString("</node>")
	return b.String()
}

// Export registers methods as the implementation of interfaceName at
// path. Every entry in methods must conform to one of the handler
// signatures described on [Conn.Handle]; Export panics under the
// same conditions Handle does.
//
// Re-exporting an (path, interfaceName) pair that is already exported
// is rejected; call [Conn.Unexport] first. Introspection of path
// through org.freedesktop.DBus.Introspectable.Introspect is kept in
// sync with the export table automatically.
func (c *Conn) Export(path ObjectPath, interfaceName string, methods map[string]any) error {
	if err := validateObjectPath(string(path)); err != nil {
		return err
	}
	if err := validateInterfaceName(interfaceName); err != nil {
		return err
	}
	handlers := make(map[string]handlerFunc, len(methods))
	for name, fn := range methods {
		handlers[name] = handlerForFunc(fn)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ifaces := c.exports[path]
	if ifaces == nil {
		ifaces = map[string]*exportedInterface{}
		c.exports[path] = ifaces
	}
	if _, exists := ifaces[interfaceName]; exists {
		return ExportConflictError{Path: path, Interface: interfaceName}
	}
	ifaces[interfaceName] = &exportedInterface{methods: handlers}
	return nil
}

// Unexport removes interfaceName from the set of interfaces exported
// at path. If interfaceName is empty, every interface exported at
// path is removed.
func (c *Conn) Unexport(path ObjectPath, interfaceName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ifaces, ok := c.exports[path]
	if !ok {
		return ExportConflictError{Path: path, Interface: interfaceName, Unexport: true}
	}
	if interfaceName == "" {
		delete(c.exports, path)
		return nil
	}
	if _, ok := ifaces[interfaceName]; !ok {
		return ExportConflictError{Path: path, Interface: interfaceName, Unexport: true}
	}
	delete(ifaces, interfaceName)
	if len(ifaces) == 0 {
		delete(c.exports, path)
	}
	return nil
}

// Handle calls fn to handle incoming method calls to methodName on
// interfaceName, for every object path. It is meant for interfaces
// that every object answers regardless of what is exported on it,
// such as org.freedesktop.DBus.Peer; most applications should use
// [Conn.Export] instead, which scopes methods to a specific object
// path and participates in introspection.
//
// fn must have one of the following type signatures, where ReqType
// and RetType determine the method's [Signature].
//
//	func(context.Context, dbus.ObjectPath) error
//	func(context.Context, dbus.ObjectPath) (RetType, error)
//	func(context.Context, dbus.ObjectPath, ReqType) error
//	func(context.Context, dbus.ObjectPath, ReqType) (RetType, error)
//
// Handle panics if fn is not one of the above type signatures.
// Registering the same interfaceName/methodName pair twice silently
// replaces the previous handler.
func (c *Conn) Handle(interfaceName, methodName string, fn any) {
	handler := handlerForFunc(fn)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builtins[interfaceMember{interfaceName, methodName}] = handler
}

type handlerFunc func(ctx context.Context, object ObjectPath, req *fragments.Decoder) (any, error)

func handlerForFunc(fn any) handlerFunc {
	v := reflect.ValueOf(fn)
	if !v.IsValid() {
		panic(errors.New("nil handler function given to Handle"))
	}
	t := v.Type()
	if t.Kind() != reflect.Func {
		panic(fmt.Errorf("Handle called with non-function handler type %s", t))
	}
	ni, no := t.NumIn(), t.NumOut()

	const msgInvalidHandlerSignature = "invalid signature %s for handler func, valid signatures are:\n  func(context.Context, dbus.ObjectPath, ReqT) (RespT, error)\n  func(context.Context, dbus.ObjectPath) (RespT, error)\n  func(context.Context, dbus.ObjectPath, ReqT) error\n  func(context.Context, dbus.ObjectPath) error"

	if ni < 2 || ni > 3 || no < 1 || no > 2 {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	if !t.In(0).Implements(reflect.TypeFor[context.Context]()) {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	if t.In(1) != reflect.TypeFor[ObjectPath]() {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	if !t.Out(no - 1).Implements(reflect.TypeFor[error]()) {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	var (
		reqDec fragments.DecoderFunc
		err    error
	)
	if ni == 3 {
		reqDec, err = decoderFor(t.In(2))
		if err != nil {
			panic(fmt.Errorf("request type %s is not a valid DBus type: %w", t.In(2), err))
		}
	}
	if no == 2 {
		if _, err = encoderFor(t.Out(0)); err != nil {
			if err != nil {
				panic(fmt.Errorf("response type %s is not a valid DBus type: %w", t.Out(0), err))
			}
		}
	}

	type s struct{ numIn, numOut int }
	switch (s{ni, no}) {
	case s{2, 1}:
		handler := fn.(func(context.Context, ObjectPath) error)
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			return nil, handler(ctx, obj)
		}
	case s{2, 2}:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			rets := v.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(obj)})
			if err, ok := rets[1].Interface().(error); ok && err != nil {
				return nil, err
			}
			return rets[0].Interface(), nil
		}
	case s{3, 1}:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			body := reflect.New(t.In(2))
			if err := reqDec(ctx, req, body); err != nil {
				return nil, err
			}
			rets := v.Call([]reflect.Value{
				reflect.ValueOf(ctx),
				reflect.ValueOf(obj),
				body.Elem(),
			})
			if err, ok := rets[0].Interface().(error); ok && err != nil {
				return nil, err
			}
			return nil, nil
		}
	case s{3, 2}:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			body := reflect.New(t.In(2))
			if err := reqDec(ctx, req, body); err != nil {
				return nil, err
			}
			rets := v.Call([]reflect.Value{
				reflect.ValueOf(ctx),
				reflect.ValueOf(obj),
				body.Elem(),
			})
			if err, ok := rets[1].Interface().(error); ok && err != nil {
				return nil, err
			}
			return rets[0].Interface(), nil
		}
	default:
		panic("unreachable")
	}
}
