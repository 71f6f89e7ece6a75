package network

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tolelom/streamlet/consensus"
)

// Node listens for incoming peers and manages outgoing connections for the
// consensus P2P channel. It implements consensus.Transport: every PROPOSE,
// VOTE, TIMEOUT, and PK_EXCHANGE message the replica set exchanges flows
// through here and lands on Inbox() for the engine's single consumer
// goroutine. RECOVERY_REQUEST/REPLY never touch this type — see recovery.go.
type Node struct {
	selfID     int
	listenAddr string
	tlsConfig  *tls.Config // nil → plain TCP

	mu    sync.RWMutex
	peers map[int]*Peer

	inbox chan consensus.Envelope

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node that will listen on listenAddr.
func NewNode(selfID int, listenAddr string, tlsCfg *tls.Config) *Node {
	return &Node{
		selfID:     selfID,
		listenAddr: listenAddr,
		tlsConfig:  tlsCfg,
		peers:      make(map[int]*Peer),
		inbox:      make(chan consensus.Envelope, 256),
		stopCh:     make(chan struct{}),
	}
}

// Inbox implements consensus.Transport.
func (n *Node) Inbox() <-chan consensus.Envelope { return n.inbox }

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr, announces selfID over the connection, and registers
// the peer under replicaID.
func (n *Node) AddPeer(replicaID int, addr string) error {
	peer, err := Connect(strconv.Itoa(replicaID), addr, n.tlsConfig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[replicaID] = peer
	n.mu.Unlock()

	hello, _ := json.Marshal(map[string]int{"id": n.selfID})
	if err := peer.Send(Message{Type: MsgHello, Payload: hello}); err != nil {
		log.Printf("[network] send hello to %d: %v", replicaID, err)
	}
	go n.readLoop(replicaID, peer)
	return nil
}

// peerCount reports how many replica connections are currently registered.
func (n *Node) peerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Printf("[network] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		go n.handleIncoming(conn)
	}
}

// handleIncoming waits for the remote side's HELLO to learn which replica
// id just connected, registers it, and then hands off to readLoop.
func (n *Node) handleIncoming(conn net.Conn) {
	peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
	msg, err := peer.Receive()
	if err != nil || msg.Type != MsgHello {
		log.Printf("[network] incoming connection from %s: missing/invalid hello", conn.RemoteAddr())
		peer.Close()
		return
	}
	var hello struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		peer.Close()
		return
	}
	n.mu.Lock()
	n.peers[hello.ID] = peer
	n.mu.Unlock()
	n.readLoop(hello.ID, peer)
}

func (n *Node) readLoop(from int, peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[network] readLoop panic from %d: %v", from, r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, from)
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		env, ok := decodeEnvelope(from, msg)
		if !ok {
			continue
		}
		n.inbox <- env
	}
}

func decodeEnvelope(from int, msg Message) (consensus.Envelope, bool) {
	switch msg.Type {
	case MsgPKExchange:
		var p consensus.PKExchange
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("[network] unmarshal pk_exchange from %d: %v", from, err)
			return consensus.Envelope{}, false
		}
		return consensus.Envelope{Kind: consensus.KindPKExchange, From: from, PKExchange: &p}, true
	case MsgPropose:
		var p consensus.Propose
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Printf("[network] unmarshal propose from %d: %v", from, err)
			return consensus.Envelope{}, false
		}
		return consensus.Envelope{Kind: consensus.KindPropose, From: from, Propose: &p}, true
	case MsgVote:
		var v consensus.Vote
		if err := json.Unmarshal(msg.Payload, &v); err != nil {
			log.Printf("[network] unmarshal vote from %d: %v", from, err)
			return consensus.Envelope{}, false
		}
		return consensus.Envelope{Kind: consensus.KindVote, From: from, Vote: &v}, true
	case MsgTimeout:
		var t consensus.Timeout
		if err := json.Unmarshal(msg.Payload, &t); err != nil {
			log.Printf("[network] unmarshal timeout from %d: %v", from, err)
			return consensus.Envelope{}, false
		}
		return consensus.Envelope{Kind: consensus.KindTimeout, From: from, Timeout: &t}, true
	default:
		return consensus.Envelope{}, false
	}
}

func (n *Node) broadcast(typ MsgType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := Message{Type: typ, Payload: data}
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			log.Printf("[network] broadcast %s to %s: %v", typ, p.ID, err)
		}
	}
	return nil
}

// BroadcastPropose implements consensus.Transport.
func (n *Node) BroadcastPropose(p consensus.Propose) error { return n.broadcast(MsgPropose, p) }

// BroadcastVote implements consensus.Transport.
func (n *Node) BroadcastVote(v consensus.Vote) error { return n.broadcast(MsgVote, v) }

// BroadcastTimeout implements consensus.Transport.
func (n *Node) BroadcastTimeout(t consensus.Timeout) error { return n.broadcast(MsgTimeout, t) }

// BroadcastPKExchange implements consensus.Transport.
func (n *Node) BroadcastPKExchange(p consensus.PKExchange) error {
	return n.broadcast(MsgPKExchange, p)
}
