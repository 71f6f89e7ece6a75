// Command replica starts a single Streamlet consensus replica.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tolelom/streamlet/config"
	"github.com/tolelom/streamlet/consensus"
	"github.com/tolelom/streamlet/crypto"
	"github.com/tolelom/streamlet/crypto/certgen"
	"github.com/tolelom/streamlet/events"
	"github.com/tolelom/streamlet/indexer"
	"github.com/tolelom/streamlet/network"
	"github.com/tolelom/streamlet/rpc"
	"github.com/tolelom/streamlet/storage"
	"github.com/tolelom/streamlet/txgen"
	"github.com/tolelom/streamlet/usig"
	"github.com/tolelom/streamlet/wallet"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "replica.key", "path to signing keystore file")
	usigKeyPath := flag.String("usig-key", "usig.key", "path to USIG keystore file (usig variant only)")
	genKey := flag.Bool("genkey", false, "generate a new replica key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires replica_id from config)")
	flag.Parse()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("STREAMLET_PASSWORD")
	if password == "" {
		log.Println("WARNING: STREAMLET_PASSWORD not set — keystore will use an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key: %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		cfgForCerts, err := loadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		nodeID := fmt.Sprintf("replica-%d", cfgForCerts.ReplicaID)
		if err := certgen.GenerateAll(*genCerts, nodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for %s\n", *genCerts, nodeID)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- load replica signing key ----
	privKey, err := loadOrGenerateKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}

	// ---- USIG identity (usig variant only) ----
	var usigGen *usig.USIG
	if cfg.Variant == config.VariantUSIG {
		usigKey, err := loadOrGenerateKey(*usigKeyPath, password)
		if err != nil {
			log.Fatalf("load usig key: %v", err)
		}
		usigGen = usig.FromKey(usigKey)
	}

	// ---- data dir / secondary-index DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/index")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	// ---- events ----
	emitter := events.NewEmitter()

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled")
	}

	// ---- network ----
	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node := network.NewNode(cfg.ReplicaID, p2pAddr, tlsCfg)
	if err := node.Start(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	defer node.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	recoveryAddr := fmt.Sprintf(":%d", cfg.RecoveryBase+cfg.ReplicaID)
	recoveryPeers := make(map[int]string)
	for _, p := range cfg.Peers {
		if p.ID != cfg.ReplicaID {
			recoveryPeers[p.ID] = recoveryAddrFor(p, cfg.RecoveryBase)
		}
	}
	recoveryClient := network.NewRecoveryClient(cfg.ReplicaID, recoveryPeers, tlsCfg)

	for _, p := range cfg.Peers {
		if p.ID == cfg.ReplicaID {
			continue
		}
		if err := node.AddPeer(p.ID, p.Addr); err != nil {
			log.Printf("connect to replica %d (%s): %v", p.ID, p.Addr, err)
		}
	}

	// ---- PK exchange: block until every replica's verification key is known ----
	selfPub := privKey.Public()
	if usigGen != nil {
		selfPub = usigGen.PublicKey()
	}
	peers, err := exchangeKeys(node, cfg, selfPub)
	if err != nil {
		log.Fatalf("pk exchange: %v", err)
	}
	log.Printf("PK exchange complete: %d/%d replicas", len(peers), cfg.N())

	// ---- transaction ingestion ----
	gen := txgen.New(cfg.TransactionSize, cfg.TransactionNumber, cfg.EpochDuration)
	gen.Start()
	defer gen.Stop()

	// ---- consensus engine ----
	engine := consensus.NewEngine(cfg, cfg.ReplicaID, privKey, peers, usigGen, node, recoveryClient, emitter, gen.Next)

	// ---- recovery server (answers peers; never touches the engine's inbox) ----
	recoveryServer := network.NewRecoveryServer(cfg.ReplicaID, recoveryAddr, tlsCfg, engine.Store())
	if err := recoveryServer.Start(); err != nil {
		log.Fatalf("recovery server start: %v", err)
	}
	defer recoveryServer.Stop()
	log.Printf("Recovery channel listening on %s", recoveryAddr)

	// ---- secondary index ----
	idx := indexer.New(db, engine.Store(), emitter)

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(engine.Store(), idx, engine.Epoch)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	// ---- consensus loop ----
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(done)
	}()
	log.Printf("Consensus running (replica %d, variant %s)", cfg.ReplicaID, cfg.Variant)

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	// 1. Stop consensus first (no new proposals, no new votes)
	close(done)
	wg.Wait()

	// 2. Deferred calls run in LIFO: rpcServer.Stop → recoveryServer.Stop →
	//    gen.Stop → node.Stop → db.Close
	log.Println("Shutdown complete.")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func loadOrGenerateKey(path, password string) (crypto.PrivateKey, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		priv, _, err := crypto.GenerateKeyPair()
		if err != nil {
			return crypto.PrivateKey{}, err
		}
		if err := wallet.SaveKey(path, password, priv); err != nil {
			return crypto.PrivateKey{}, err
		}
		return priv, nil
	}
	return wallet.LoadKey(path, password)
}

func recoveryAddrFor(p config.Peer, base int) string {
	return fmt.Sprintf(":%d", base+p.ID)
}

// exchangeKeys broadcasts this replica's verification key and blocks until
// every replica in the membership set (as named in cfg.Peers) has replied
// with its own, building the classical-or-USIG verification key map the
// engine needs. A replica that never answers stalls startup; the key is
// rebroadcast every second while waiting.
func exchangeKeys(node *network.Node, cfg *config.Config, selfPub crypto.PublicKey) (map[int]crypto.PublicKey, error) {
	peers := map[int]crypto.PublicKey{cfg.ReplicaID: selfPub}

	hello := consensus.PKExchange{Sender: cfg.ReplicaID, PublicKey: selfPub.Hex()}
	if err := node.BroadcastPKExchange(hello); err != nil {
		return nil, fmt.Errorf("broadcast pk exchange: %w", err)
	}

	for len(peers) < cfg.N() {
		select {
		case env := <-node.Inbox():
			if env.Kind != consensus.KindPKExchange || env.PKExchange == nil {
				continue
			}
			pub, err := crypto.PubKeyFromHex(env.PKExchange.PublicKey)
			if err != nil {
				log.Printf("pk exchange: invalid key from %d: %v", env.From, err)
				continue
			}
			peers[env.From] = pub
		case <-time.After(time.Second):
			if err := node.BroadcastPKExchange(hello); err != nil {
				log.Printf("pk exchange: retry broadcast: %v", err)
			}
		}
	}
	return peers, nil
}
