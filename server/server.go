package server

import (
	"errors"
	"log"
	"net"
	"time"

	"github.com/z1x2c3v4b5n6/wechat/db"
	"github.com/z1x2c3v4b5n6/wechat/protocol"
)

type Server struct {
	db       *db.DB
	config   *ServerConfig
	presence *Presence
	listener net.Listener
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func New(database *db.DB, config *ServerConfig) *Server {
	return &Server{
		db:       database,
		config:   config,
		presence: NewPresence(),
	}
}

// Start accepts connections until the listener fails or Stop closes it.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	defer listener.Close()

	log.Printf("chat server listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("error accepting connection: %v", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// Stop closes the listener, sends a best-effort disconnect notice to every
// online client and closes their connections. Each session then runs its own
// cleanup path as its read loop fails.
func (s *Server) Stop() {
	log.Printf("shutting down")

	if s.listener != nil {
		s.listener.Close()
	}

	if frame, err := protocol.Encode(protocol.OK(protocol.ActionDisconnect)); err == nil {
		s.presence.Broadcast(0, frame)
	}
	for _, conn := range s.presence.Conns() {
		conn.Close()
	}
}
