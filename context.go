package dbus

import (
	"context"
	"errors"
	"os"
)

type senderContextKey struct{}

func withContextSender(ctx context.Context, iface Interface) context.Context {
	return context.WithValue(ctx, senderContextKey{}, iface)
}

func ContextSender(ctx context.Context) (Interface, bool) {
	v := ctx.Value(senderContextKey{})
	if v == nil {
		return Interface{}, false
	}
	if ret, ok := v.(Interface); ok {
		return ret, true
	}
	return Interface{}, false
}

// ContextEmitter returns the Interface that emitted the signal or
// property change being processed in a [Watcher] callback derived
// from ctx, as for [ContextSender].
func ContextEmitter(ctx context.Context) (Interface, bool) {
	return ContextSender(ctx)
}

type callFlagsContextKey struct{}

// withContextHeader annotates ctx with information from hdr, so that
// handlers and watchers invoked while processing hdr can recover the
// sender of the message with [ContextSender], and so that an
// in-flight call's flags survive being threaded through a derived
// context.
func withContextHeader(ctx context.Context, c *Conn, hdr *header) context.Context {
	peerName := hdr.Sender
	if peerName == "" {
		peerName = hdr.Destination
	}
	iface := c.Peer(peerName).Object(hdr.Path).Interface(hdr.Interface)
	ctx = withContextSender(ctx, iface)
	return context.WithValue(ctx, callFlagsContextKey{}, hdr.Flags)
}

// contextCallFlags returns the message flags stashed in ctx by
// withContextHeader, or 0 if ctx carries none.
func contextCallFlags(ctx context.Context) byte {
	v := ctx.Value(callFlagsContextKey{})
	if v == nil {
		return 0
	}
	f, _ := v.(byte)
	return f
}

type filesContextKey struct{}

func withContextFiles(ctx context.Context, files []*os.File) context.Context {
	return context.WithValue(ctx, filesContextKey{}, files)
}

func contextFile(ctx context.Context, idx uint32) *os.File {
	v := ctx.Value(filesContextKey{})
	if v == nil {
		return nil
	}
	fs, ok := v.([]*os.File)
	if !ok {
		return nil
	}
	if int(idx) >= len(fs) {
		return nil
	}

	return fs[int(idx)]
}

type writeFilesContextKey struct{}

func withContextPutFiles(ctx context.Context, files *[]*os.File) context.Context {
	return context.WithValue(ctx, writeFilesContextKey{}, files)
}

func contextPutFile(ctx context.Context, file *os.File) (idx uint32, err error) {
	v := ctx.Value(writeFilesContextKey{})
	if v == nil {
		return 0, errors.New("cannot send file descriptor: invalid context")
	}
	fsp, ok := v.(*[]*os.File)
	if !ok || fsp == nil {
		return 0, errors.New("cannot send file descriptor: invalid context")
	}

	*fsp = append(*fsp, file)
	return uint32(len(*fsp) - 1), nil
}
