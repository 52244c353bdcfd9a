package control

import (
	"fmt"
	"net"
	"os"
	"time"
)

// Client is a thin synchronous request/reply wrapper over the control
// socket, used by cmd/tinitctl. It is intentionally not concurrency-safe:
// one in-flight request at a time, matching struct tinit_sock's single
// sequence number and reply buffer.
type Client struct {
	conn *net.UnixConn
	seq  uint16
}

// Dial connects to the control socket at path. A SOCK_DGRAM client needs
// its own bound address before the server has anywhere to send a reply,
// so the client binds to a Linux abstract-namespace address (a name
// starting with a NUL byte): it needs no filesystem entry and is
// reclaimed automatically when the socket closes, unlike a path under
// /run that a crashed client would leave behind.
func Dial(path string) (*Client, error) {
	laddr := &net.UnixAddr{Name: fmt.Sprintf("\x00tinitctl-%d", os.Getpid()), Net: "unixgram"}
	raddr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying socket.
func (c *Client) Close() error { return c.conn.Close() }

// nextSeq hands out the next request sequence number, mirroring
// struct tinit_sock's monotonically increasing seqno.
func (c *Client) nextSeq() uint16 {
	c.seq++
	return c.seq
}

// call sends a request and waits up to 5 seconds for its matching
// reply, discarding any stale reply whose sequence number doesn't
// match (a prior request's reply arriving late).
func (c *Client) call(typ MsgType, pattern string) ([]byte, error) {
	seq := c.nextSeq()
	req, err := Request{Seq: seq, Type: typ, Pattern: pattern}.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(req); err != nil {
		return nil, fmt.Errorf("control: send request: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, MsgSizeMax)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("control: receive reply: %w", err)
		}
		head, err := DecodeReplyHeader(buf[:n])
		if err != nil {
			return nil, err
		}
		if head.Seq != seq {
			continue
		}
		if head.Ret != 0 {
			return nil, fmt.Errorf("control: %s: server returned error %d", typ, head.Ret)
		}
		return buf[:n], nil
	}
}

// Status requests the status of every service matching pattern.
func (c *Client) Status(pattern string) ([]StatusRecord, error) {
	buf, err := c.call(MsgStatus, pattern)
	if err != nil {
		return nil, err
	}
	return decodeStatusRecords(buf[replyHead:])
}

// Start requests that name be started.
func (c *Client) Start(name string) error {
	_, err := c.call(MsgStart, name)
	return err
}

// Stop requests that name be stopped.
func (c *Client) Stop(name string) error {
	_, err := c.call(MsgStop, name)
	return err
}

// Restart requests that name be restarted. The server currently treats
// this as a no-op success.
func (c *Client) Restart(name string) error {
	_, err := c.call(MsgRestart, name)
	return err
}

// Reload requests that name reload its configuration in place.
func (c *Client) Reload(name string) error {
	_, err := c.call(MsgReload, name)
	return err
}

// Switch requests a target switch to name.
func (c *Client) Switch(name string) error {
	_, err := c.call(MsgSwitch, name)
	return err
}
