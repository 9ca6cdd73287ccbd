package server

import (
	"net"
	"sync"
	"time"
)

// outboundBuffer is the per-client frame queue depth. A full queue means the
// peer is too slow to count as online for delivery purposes.
const outboundBuffer = 64

// client is the outbound half of one connection: the writer goroutine drains
// out onto the conn. A client exists from accept to close; it appears in the
// Presence map only while its session is authenticated.
type client struct {
	userID int64
	conn   net.Conn
	out    chan []byte
	closed bool // guarded by the owning Presence mutex
}

func newClient(conn net.Conn) *client {
	return &client{
		conn: conn,
		out:  make(chan []byte, outboundBuffer),
	}
}

// Presence maps authenticated account ids to their live outbound channel.
// Every operation holds the single mutex for the map work plus at most one
// non-blocking channel send; nothing here blocks on I/O or the database.
type Presence struct {
	mu     sync.Mutex
	online map[int64]*client
}

func NewPresence() *Presence {
	return &Presence{online: make(map[int64]*client)}
}

// SetOnline registers the client under id. A previous entry for the same
// account (a second login) is displaced and its channel closed so the old
// writer terminates.
func (p *Presence) SetOnline(id int64, c *client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.online[id]; ok && prev != c {
		p.closeLocked(prev)
	}
	c.userID = id
	p.online[id] = c
	OnlineUsers.Set(float64(len(p.online)))
}

// SetOffline removes the client's entry and closes its channel. A no-op when
// the entry has already been displaced by a newer login.
func (p *Presence) SetOffline(id int64, c *client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.online[id]; ok && cur == c {
		delete(p.online, id)
		OnlineUsers.Set(float64(len(p.online)))
	}
	p.closeLocked(c)
}

// Push attempts a best-effort live delivery to id. Absent entry or a full
// queue both report false: the recipient counts as offline.
func (p *Presence) Push(id int64, frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.online[id]
	if !ok || c.closed {
		return false
	}
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

// send queues a frame for a specific client, online or not. Used for a
// session's own replies; the mutex guards against the channel being closed
// by a displacing login on another connection.
func (p *Presence) send(c *client, frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

// Broadcast delivers frame to every online account except exceptID. The
// iteration runs under the mutex, so it sees a consistent point-in-time view
// of who is online; each send is non-blocking.
func (p *Presence) Broadcast(exceptID int64, frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, c := range p.online {
		if id == exceptID || c.closed {
			continue
		}
		select {
		case c.out <- frame:
		default:
		}
	}
}

// Conns snapshots the connections of every online client. Used at shutdown
// to close them after a disconnect notice.
func (p *Presence) Conns() []net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := make([]net.Conn, 0, len(p.online))
	for _, c := range p.online {
		conns = append(conns, c.conn)
	}
	return conns
}

func (p *Presence) closeLocked(c *client) {
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

// release closes an unauthenticated client's channel so its writer exits.
// Authenticated clients go through SetOffline instead.
func (p *Presence) release(c *client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked(c)
}

// startWriter drains the client's outbound channel onto the connection until
// the channel is closed or a write fails. After a failed write the queue
// fills up and Push starts reporting the peer offline.
func startWriter(c *client, timeout time.Duration) {
	go func() {
		for frame := range c.out {
			c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if _, err := c.conn.Write(frame); err != nil {
				return
			}
		}
	}()
}
