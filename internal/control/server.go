// Package control's Server is the supervisor side of the protocol: a
// SOCK_DGRAM unix socket registered with the event loop, grounded on
// srv.c's tinit_srv_open/tinit_srv_dispatch. Go has no signalfd-style
// socket option that hands back credentials the way Linux's SO_PASSCRED
// plus SCM_CREDENTIALS ancillary data do, so credential checking still
// goes through those same raw facilities via golang.org/x/sys/unix
// rather than net.UnixConn, keeping the server's fd under our own epoll
// instance instead of the Go runtime's netpoller.
package control

import (
	"errors"
	"fmt"
	"os"

	"github.com/gobwas/glob"
	"github.com/tuxdude/zzzlogi"
	"golang.org/x/sys/unix"

	"github.com/tuxdude/tinit/internal/eventloop"
	"github.com/tuxdude/tinit/internal/service"
)

// sendBuffNR mirrors TINIT_SRV_SEND_BUFF_NR.
const sendBuffNR = 16

// Supervisor is the subset of *service.Manager a Server needs: look up
// one service by name, or enumerate all of them for a status query.
type Supervisor interface {
	All() []*service.Service
	ByName(name string) (*service.Service, error)
}

// TargetSwitcher is the subset of *target.Controller a Server needs for
// TINIT_SWITCH_MSG_TYPE.
type TargetSwitcher interface {
	Switch(name string) error
}

// Server is the control-plane listener.
type Server struct {
	log        zzzlogi.Logger
	path       string
	fd         int
	adminGID   uint32
	supervisor Supervisor
	switcher   TargetSwitcher
	loop       *eventloop.Loop
	out        *replyQueue
	outArmed   bool
}

var _ eventloop.Worker = (*Server)(nil)

// New builds a Server. adminGID is the supplementary group credential
// tinit_srv_are_creds_ok also accepts alongside uid 0.
func New(log zzzlogi.Logger, sup Supervisor, sw TargetSwitcher, adminGID uint32) *Server {
	return &Server{
		log:        log,
		adminGID:   adminGID,
		supervisor: sup,
		switcher:   sw,
		out:        newReplyQueue(sendBuffNR),
	}
}

// Open binds the control socket at path and registers it with loop. The
// umask dance mirrors tinit_srv_open: sockets created by bind(2) take
// their permission bits from the umask in effect at bind time, so it is
// narrowed and restored around the call rather than chmod'd afterwards.
func (s *Server) Open(path string, loop *eventloop.Loop) error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("control: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("control: SO_PASSCRED: %w", err)
	}

	_ = os.Remove(path)
	old := unix.Umask(0117)
	err = unix.Bind(fd, &unix.SockaddrUnix{Name: path})
	unix.Umask(old)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("control: bind %s: %w", path, err)
	}

	if err := loop.Register(fd, unix.EPOLLIN, s); err != nil {
		unix.Close(fd)
		return err
	}

	s.fd = fd
	s.path = path
	s.loop = loop
	s.log.Debugf("control: server opened on %s.", path)
	return nil
}

// Close unregisters and closes the control socket and removes its path.
func (s *Server) Close() {
	_ = s.loop.Unregister(s.fd)
	_ = unix.Close(s.fd)
	_ = os.Remove(s.path)
}

// Dispatch is tinit_srv_dispatch: handle inbound requests while there is
// room in the outbound queue, then drain whatever replies are ready to
// go out, the same two-phase structure as the original.
func (s *Server) Dispatch(events uint32) error {
	if events&unix.EPOLLIN != 0 {
		s.handleRequests()
	}
	s.handleReplies()
	return s.applyWatch()
}

// handleRequests is tinit_srv_handle_requests.
func (s *Server) handleRequests() {
	buf := make([]byte, MsgSizeMax)
	oob := make([]byte, unix.CmsgSpace(unix.SizeofUcred))

	for !s.out.Full() {
		n, oobn, _, from, err := unix.Recvmsg(s.fd, buf, oob, 0)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
				s.log.Debugf("control: recvmsg: %v", err)
			}
			return
		}

		creds, err := parseCreds(oob[:oobn])
		if err != nil {
			s.log.Infof("control: receive request: missing client credentials.")
			continue
		}
		if !s.credsOK(creds) {
			s.log.Infof("control: receive request: client credentials rejected.")
			continue
		}

		req, err := DecodeRequest(buf[:n])
		if err != nil {
			s.log.Debugf("control: parse request: %v", err)
			continue
		}

		reply := s.process(req)
		s.out.Push(outboundReply{addr: from, data: reply})
	}
}

func (s *Server) credsOK(creds *unix.Ucred) bool {
	return creds.Uid == 0 || creds.Gid == s.adminGID
}

func parseCreds(oob []byte) (*unix.Ucred, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.Header.Level == unix.SOL_SOCKET && m.Header.Type == unix.SCM_CREDENTIALS {
			return unix.ParseUnixCredentials(&m)
		}
	}
	return nil, fmt.Errorf("control: no SCM_CREDENTIALS in ancillary data")
}

// process is tinit_srv_process_request: dispatch a decoded Request to
// its handler and build the reply payload.
func (s *Server) process(req Request) []byte {
	switch req.Type {
	case MsgStatus:
		return s.handleStatus(req.Seq, req.Pattern)
	case MsgStart:
		return s.handleStart(req.Seq, req.Pattern)
	case MsgStop:
		return s.handleStop(req.Seq, req.Pattern)
	case MsgRestart:
		return s.handleRestart(req.Seq, req.Pattern)
	case MsgReload:
		return s.handleReload(req.Seq, req.Pattern)
	case MsgSwitch:
		return s.handleSwitch(req.Seq, req.Pattern)
	default:
		return EncodeError(req.Seq, req.Type, uint16(unix.EINVAL))
	}
}

// handleStatus is tinit_srv_request_status: every service whose name
// matches pattern gets one status record appended, in Repository
// insertion order. glob.Compile is deliberately called with no
// separator argument: service names are flat, not path-shaped, so a
// wildcard crossing a '.' is exactly the fnmatch(3) behavior
// tinit_srv_request_status relies on (FNM_PATHNAME unset), not a bug to
// fix by adding one.
func (s *Server) handleStatus(seq uint16, pattern string) []byte {
	g, err := glob.Compile(pattern)
	if err != nil {
		return EncodeError(seq, MsgStatus, uint16(unix.EINVAL))
	}

	buf := EncodeError(seq, MsgStatus, 0)
	cnt := 0

	for _, svc := range s.supervisor.All() {
		desc := svc.Descriptor()
		if !g.Match(desc.Name) {
			continue
		}

		next, err := appendStatusRecord(buf, StatusRecord{
			PID:      uint32(svc.PID()),
			Admin:    svc.Admin(),
			RunState: toRunState(svc.State()),
			Path:     desc.Path,
		})
		if err != nil {
			return EncodeError(seq, MsgStatus, uint16(unix.ENOSPC))
		}
		buf = next
		cnt++
	}

	if cnt == 0 {
		return EncodeError(seq, MsgStatus, uint16(unix.ENOENT))
	}
	return buf
}

func toRunState(s service.State) RunState {
	switch s {
	case service.Stopped:
		return Stopped
	case service.Starting:
		return Starting
	case service.Ready:
		return Ready
	case service.Stopping:
		return Stopping
	default:
		return Stopped
	}
}

// handleStart is tinit_srv_request_start.
func (s *Server) handleStart(seq uint16, name string) []byte {
	if !isValidServiceName(name) {
		return EncodeError(seq, MsgStart, uint16(unix.EINVAL))
	}
	svc, err := s.supervisor.ByName(name)
	if err != nil {
		return EncodeError(seq, MsgStart, uint16(unix.ENOENT))
	}
	switch svc.State() {
	case service.Starting, service.Ready:
	default:
		svc.Start()
	}
	return EncodeError(seq, MsgStart, 0)
}

// handleStop is tinit_srv_request_stop.
func (s *Server) handleStop(seq uint16, name string) []byte {
	if !isValidServiceName(name) {
		return EncodeError(seq, MsgStop, uint16(unix.EINVAL))
	}
	svc, err := s.supervisor.ByName(name)
	if err != nil {
		return EncodeError(seq, MsgStop, uint16(unix.ENOENT))
	}
	switch svc.State() {
	case service.Stopped, service.Stopping:
	default:
		svc.Stop()
	}
	return EncodeError(seq, MsgStop, 0)
}

// handleRestart is tinit_srv_request_restart: left unimplemented on the
// original ("FIXME: implement me") and always reports success without
// doing anything. Kept that way rather than fixed.
func (s *Server) handleRestart(seq uint16, _ string) []byte {
	return EncodeError(seq, MsgRestart, 0)
}

// handleReload is tinit_srv_request_reload.
func (s *Server) handleReload(seq uint16, name string) []byte {
	if !isValidServiceName(name) {
		return EncodeError(seq, MsgReload, uint16(unix.EINVAL))
	}
	svc, err := s.supervisor.ByName(name)
	if err != nil {
		return EncodeError(seq, MsgReload, uint16(unix.ENOENT))
	}
	switch svc.State() {
	case service.Stopped, service.Stopping:
		svc.Start()
	case service.Starting:
	case service.Ready:
		if err := svc.Reload(); err != nil {
			s.log.Debugf("control: reload: %v", err)
		}
	}
	return EncodeError(seq, MsgReload, 0)
}

// handleSwitch is tinit_srv_request_switch.
func (s *Server) handleSwitch(seq uint16, name string) []byte {
	if !isValidServiceName(name) {
		return EncodeError(seq, MsgSwitch, uint16(unix.EINVAL))
	}
	if err := s.switcher.Switch(name); err != nil {
		s.log.Debugf("control: switch %s: %v", name, err)
		return EncodeError(seq, MsgSwitch, uint16(unix.ENOENT))
	}
	return EncodeError(seq, MsgSwitch, 0)
}

// isValidServiceName is tinit_check_svc_name: unlike STATUS's glob
// pattern, every other request names one exact service or target, so
// glob metacharacters are rejected outright.
func isValidServiceName(name string) bool {
	if name == "" || len(name) > PatternMax-1 {
		return false
	}
	for _, r := range name {
		switch r {
		case '*', '?', '[', ']', '!', '@', '+', '(', ')', '\\':
			return false
		}
	}
	return true
}

// handleReplies is tinit_srv_handle_replies.
func (s *Server) handleReplies() {
	for {
		item, ok := s.out.Front()
		if !ok {
			return
		}
		err := unix.Sendto(s.fd, item.data, 0, item.addr)
		switch {
		case err == nil:
			s.out.Pop()
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			return
		case errors.Is(err, unix.ECONNREFUSED):
			s.log.Infof("control: send reply: client connection refused.")
			s.out.Pop()
		default:
			s.log.Debugf("control: send reply: %v", err)
			s.out.Pop()
		}
	}
}

// applyWatch is unsk_async_svc_apply_watch: EPOLLOUT is only armed while
// there is something left to send.
func (s *Server) applyWatch() error {
	want := !s.out.Empty()
	if want == s.outArmed {
		return nil
	}
	events := uint32(unix.EPOLLIN)
	if want {
		events |= unix.EPOLLOUT
	}
	s.outArmed = want
	return s.loop.Modify(s.fd, events)
}
