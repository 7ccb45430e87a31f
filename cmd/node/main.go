// Command node starts a tolchain Primary: a per-validator DAG mempool
// coordinator for a BFT blockchain.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tolelom/tolchain/config"
	"github.com/tolelom/tolchain/crypto/certgen"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/network"
	"github.com/tolelom/tolchain/primary"
	"github.com/tolelom/tolchain/rpc"
	"github.com/tolelom/tolchain/storage"
	"github.com/tolelom/tolchain/wallet"
	"github.com/tolelom/tolchain/worker"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires node ID from config)")
	flag.Parse()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("TOL_PASSWORD")
	if password == "" {
		log.Println("WARNING: TOL_PASSWORD not set — keystore will use an empty password")
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
		fmt.Printf("Committee address: %s\n", w.Address())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		cfgForCerts, err := loadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := certgen.GenerateAll(*genCerts, cfgForCerts.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfgForCerts.NodeID)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- load validator key ----
	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	w := wallet.New(privKey)

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := storage.NewLevelStore(db, cfg.MaxGCRounds)

	// ---- genesis committee (if fresh chain) ----
	if _, ok := store.GetCommitteeForRound(1); !ok {
		genesisCommittee, err := config.BuildGenesisCommittee(cfg)
		if err != nil {
			log.Fatalf("genesis committee: %v", err)
		}
		store.InsertCommittee(genesisCommittee)
		log.Printf("Genesis committee installed: %s", genesisCommittee)
	}

	// ---- events ----
	emitter := events.NewEmitter()

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for P2P")
	}

	// ---- gateway ----
	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	gateway := network.NewGateway(w.Address(), p2pAddr, tlsCfg, cfg.WorkerCount)
	if err := gateway.Run(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	log.Printf("P2P listening on %s", p2pAddr)

	// ---- workers ----
	workerPool := worker.NewPool(cfg.WorkerCount, gateway, store)

	// ---- connect to seed peers ----
	for _, sp := range cfg.SeedPeers {
		if err := gateway.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	// ---- primary ----
	genesisCommittee, _ := store.GetCommitteeForRound(1)
	primaryCfg := primary.Config{
		MaxWorkers:            cfg.WorkerCount,
		MaxBatchDelay:         time.Duration(cfg.MaxBatchDelayMillis) * time.Millisecond,
		MaxExpirationTimeSecs: cfg.MaxExpirationTimeSecs,
		MaxTimestampDeltaSecs: cfg.MaxTimestampDeltaSecs,
	}
	p := primary.New(primaryCfg, w.Address(), privKey, gateway, workerPool, store, genesisCommittee, emitter)
	p.Run()
	defer p.ShutDown()
	log.Printf("Primary running (validator: %s)", w.Address())

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(p, store, workerPool)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	// Deferred calls run in LIFO: rpcServer.Stop → p.ShutDown (stops workers and the gateway) → db.Close
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
