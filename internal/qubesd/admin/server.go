package admin

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/qubesd/qubesd/pkg/property"
)

// Server accepts connections on a Unix stream socket and dispatches each
// request through a Dispatcher, the same Run/Shutdown/Name shape as the
// teacher's api.API wraps an *http.Server, but for a raw socket instead
// of net/http.
type Server struct {
	SocketPath string
	Dispatcher *Dispatcher
	// Bus backs admin.Events; nil disables the method (every subscribe
	// request fails with NotFound).
	Bus *EventBus
	// ResolvePeer maps a peer's uid (read via SO_PEERCRED) to the Domain
	// name the qrexec transport would have supplied as Request.Source.
	// Tests and the debug httpview path may leave this nil, in which case
	// every connection is attributed to "dom0".
	ResolvePeer func(uid uint32) string

	ln net.Listener
	wg sync.WaitGroup
}

// eventsMethod is the one streaming exception to the request/response
// Dispatch loop: it never returns, instead writing a growing sequence of
// newline-terminated EventLine frames until the client disconnects or
// its queue overflows.
const eventsMethod = "admin.Events"

// Run implements grace.Grace: it listens on SocketPath until ctx is
// cancelled or Shutdown closes the listener.
func (s *Server) Run(ctx context.Context) error {
	_ = removeStaleSocket(s.SocketPath)
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log := zerolog.Ctx(ctx)
	log.Info().Str("socket", s.SocketPath).Msg("admin API listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(ctx, conn)
		}()
	}
}

// Shutdown implements grace.Grace: closing the listener unblocks Accept
// in Run, which then waits for in-flight connections to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Name implements grace.Grace.
func (s *Server) Name() string { return "Admin API" }

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	source := "dom0"
	if uc, ok := conn.(*net.UnixConn); ok {
		if uid, err := peerUID(uc); err == nil && s.ResolvePeer != nil {
			source = s.ResolvePeer(uid)
		}
	}

	r := bufio.NewReader(conn)
	for {
		req, err := ReadRequest(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				zerolog.Ctx(ctx).Debug().Err(err).Msg("admin connection closed")
			}
			return
		}
		if req.Source == "" {
			req.Source = source
		}
		if req.Method == eventsMethod {
			s.serveEvents(ctx, conn, req)
			return
		}
		resp := s.Dispatcher.Dispatch(ctx, req)
		if _, err := conn.Write(resp.Bytes()); err != nil {
			return
		}
	}
}

// serveEvents handles one admin.Events subscription for the remaining
// lifetime of the connection; argument names the Domain to filter on, or
// "" for every event.
func (s *Server) serveEvents(ctx context.Context, conn net.Conn, req Request) {
	if s.Bus == nil {
		conn.Write(EncodeException("NotFound", "", "admin.Events is not available").Bytes())
		return
	}
	sub := s.Bus.Subscribe(req.Argument)
	defer sub.Close()

	conn.Write(EncodeSuccess(nil).Bytes())
	for line := range sub.Events() {
		if _, err := conn.Write(line.Render()); err != nil {
			return
		}
	}
	if sub.Overflowed() {
		errLine := EventLine{Event: "connection-error", Args: property.Args{"message": "subscriber queue overflow, disconnecting"}}
		conn.Write(errLine.Render())
	}
}

// peerUID reads the connecting process's uid via SO_PEERCRED, the kernel-
// provided identity spec.md §4.4 calls "authenticates via a kernel-
// provided peer identity" (qrexec supplies the same identity over its own
// transport in production; the raw socket exposes it directly here).
func peerUID(conn *net.UnixConn) (uint32, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, credErr
	}
	return cred.Uid, nil
}

func removeStaleSocket(path string) error {
	if path == "" {
		return nil
	}
	// best-effort: a leftover socket file from an unclean shutdown blocks
	// net.Listen with "address already in use"; a missing file is fine.
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
