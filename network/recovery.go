package network

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/tolelom/streamlet/consensus"
)

// recoveryDialTimeout bounds the dial and the request write of a single
// peer attempt; RecoveryClient tries several peers before giving up. The
// reply is read under Peer.Receive's own 30-second read deadline, not this
// one.
const recoveryDialTimeout = time.Second

// StoreReader is the read-only slice of consensus.Store the recovery
// server needs — it never touches anything that would race with the
// engine's single-writer goroutine beyond what Store's own mutex already
// guards.
type StoreReader interface {
	GetBlock(epoch int64) (*consensus.Block, bool)
}

// RecoveryServer answers RECOVERY_REQUEST on its own listener and port,
// entirely separate from the consensus P2P channel, so a slow or
// adversarial requester can never stall the replica's consensus goroutine.
type RecoveryServer struct {
	addr      string
	tlsConfig *tls.Config
	store     StoreReader
	selfID    int

	listener net.Listener
	stopCh   chan struct{}
}

// NewRecoveryServer creates a server that will answer from store.
func NewRecoveryServer(selfID int, addr string, tlsCfg *tls.Config, store StoreReader) *RecoveryServer {
	return &RecoveryServer{addr: addr, tlsConfig: tlsCfg, store: store, selfID: selfID, stopCh: make(chan struct{})}
}

// Start begins accepting recovery connections.
func (s *RecoveryServer) Start() error {
	var ln net.Listener
	var err error
	if s.tlsConfig != nil {
		ln, err = tls.Listen("tcp", s.addr, s.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return fmt.Errorf("recovery listen %s: %w", s.addr, err)
	}
	s.listener = ln
	go s.acceptLoop()
	return nil
}

// Stop shuts down the recovery server.
func (s *RecoveryServer) Stop() {
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *RecoveryServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				log.Printf("[recovery] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		go s.serveOne(conn)
	}
}

// serveOne answers exactly one request per connection: the recovery
// protocol is request/response, not a persistent session.
func (s *RecoveryServer) serveOne(conn net.Conn) {
	defer conn.Close()
	peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
	msg, err := peer.Receive()
	if err != nil || msg.Type != MsgRecoveryReq {
		return
	}
	var req consensus.RecoveryRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	reply := consensus.RecoveryReply{Sender: s.selfID, Epoch: req.Epoch}
	if b, ok := s.store.GetBlock(req.Epoch); ok {
		reply.OK = true
		reply.Block = b.Clone()
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	_ = peer.Send(Message{Type: MsgRecoveryReply, Payload: data})
}

// RecoveryClient implements consensus.Recoverer by dialing a random peer's
// recovery port for each fetch, retrying a handful of distinct peers before
// giving up. It has no notion of consensus semantics: verifying the
// returned block is the engine's job.
type RecoveryClient struct {
	selfID    int
	peers     map[int]string // replica id -> recovery addr
	tlsConfig *tls.Config
}

// NewRecoveryClient creates a client that can reach every peer in peers
// (recovery address, i.e. RecoveryBase+id, not the consensus P2P address).
func NewRecoveryClient(selfID int, peers map[int]string, tlsCfg *tls.Config) *RecoveryClient {
	return &RecoveryClient{selfID: selfID, peers: peers, tlsConfig: tlsCfg}
}

// FetchBlock implements consensus.Recoverer.
func (c *RecoveryClient) FetchBlock(epoch int64) (*consensus.Block, error) {
	candidates := make([]int, 0, len(c.peers))
	for id := range c.peers {
		if id != c.selfID {
			candidates = append(candidates, id)
		}
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	var lastErr error
	for _, id := range candidates {
		block, err := c.fetchFrom(c.peers[id], epoch)
		if err != nil {
			lastErr = err
			continue
		}
		return block, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("recovery: no peers available")
	}
	return nil, fmt.Errorf("recovery: epoch %d: %w", epoch, lastErr)
}

func (c *RecoveryClient) fetchFrom(addr string, epoch int64) (*consensus.Block, error) {
	var conn net.Conn
	var err error
	if c.tlsConfig != nil {
		d := &net.Dialer{Timeout: recoveryDialTimeout}
		conn, err = tls.DialWithDialer(d, "tcp", addr, c.tlsConfig)
	} else {
		conn, err = net.DialTimeout("tcp", addr, recoveryDialTimeout)
	}
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(recoveryDialTimeout))

	peer := NewPeer(addr, addr, conn)
	req := consensus.RecoveryRequest{Sender: c.selfID, Epoch: epoch}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := peer.Send(Message{Type: MsgRecoveryReq, Payload: data}); err != nil {
		return nil, err
	}
	msg, err := peer.Receive()
	if err != nil {
		return nil, err
	}
	if msg.Type != MsgRecoveryReply {
		return nil, fmt.Errorf("unexpected reply type %q", msg.Type)
	}
	var reply consensus.RecoveryReply
	if err := json.Unmarshal(msg.Payload, &reply); err != nil {
		return nil, err
	}
	if !reply.OK || reply.Block == nil {
		return nil, fmt.Errorf("peer does not have epoch %d", epoch)
	}
	return reply.Block, nil
}
