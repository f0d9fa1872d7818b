package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/libp2p/go-libp2p"
	multiaddr "github.com/multiformats/go-multiaddr"
	"github.com/spf13/cobra"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/chorus-consensus/chorus/gcrypto"
	"github.com/chorus-consensus/chorus/gcrypto/gbls"
	"github.com/chorus-consensus/chorus/gcrypto/ged25519"
	"github.com/chorus-consensus/chorus/gmerkle"
	"github.com/chorus-consensus/chorus/internal/chorusapp"
	"github.com/chorus-consensus/chorus/tm/tmcodec/tmjson"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmengine"
	"github.com/chorus-consensus/chorus/tm/tmp2p/tmlibp2p"
	"github.com/chorus-consensus/chorus/tm/tmstore/tmsqlite"
)

func newStartCmd(flags *rootFlags) *cobra.Command {
	var (
		dataDir        string
		genesisPath    string
		privValPath    string
		listenAddr     string
		bootstrapPeers []string
		debugAddr      string
		controlSocket  string
		startHeight    uint64
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run a chorus consensus node",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(flags)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			doc, vals, err := loadGenesis(genesisPath)
			if err != nil {
				return fmt.Errorf("loading genesis: %w", err)
			}

			registry := &gcrypto.Registry{}
			ged25519.Register(registry)
			gbls.Register(registry)

			signer, err := loadPrivVal(privValPath)
			if err != nil {
				return fmt.Errorf("loading private validator: %w", err)
			}

			mc := tmjson.New(chorusapp.ValueCodec{})

			store, err := tmsqlite.Open(dataDir, mc, chorusapp.ValueCodec{}, registry)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer store.Close()

			h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
			if err != nil {
				return fmt.Errorf("constructing libp2p host: %w", err)
			}

			var bootstrap []peer.AddrInfo
			for _, s := range bootstrapPeers {
				ai, err := peerAddrInfo(s)
				if err != nil {
					return fmt.Errorf("parsing --peer %q: %w", s, err)
				}
				bootstrap = append(bootstrap, *ai)
			}

			conn, err := tmlibp2p.Connect(ctx, log.With("component", "gossip"), h, doc.ChainID, mc, tmlibp2p.WithBootstrapPeers(bootstrap...))
			if err != nil {
				return fmt.Errorf("connecting gossip transport: %w", err)
			}
			defer conn.Close()

			var valueSource func() chorusapp.Value
			if signer != nil {
				valueSource = randomValueSource(flags.nodeName)
			}
			app := chorusapp.New(log.With("component", "app"), vals, valueSource)
			go app.Run(ctx)

			opts := []tmengine.Opt{
				tmengine.WithWALStore(store),
				tmengine.WithCertificateStore(store),
				tmengine.WithValidatorStore(store),
				tmengine.WithChainStore(store),
				tmengine.WithSignatureScheme(chorusapp.SignatureScheme{}),
				tmengine.WithHashScheme(gmerkle.Blake2bHashScheme{}),
				tmengine.WithRegistry(registry),
				tmengine.WithGossipStrategy(conn.ConsensusBroadcaster()),
				tmengine.WithGetValueChannel(app.GetValueCh),
				tmengine.WithValidateValueChannel(app.ValidateValueCh),
				tmengine.WithGetValidatorSetChannel(app.GetValidatorSetCh),
				tmengine.WithDecideChannel(app.DecideCh),
			}
			if signer != nil {
				opts = append(opts, tmengine.WithSigner(signer))
			}

			engine, err := tmengine.New(log.With("component", "engine"), opts...)
			if err != nil {
				return fmt.Errorf("constructing engine: %w", err)
			}

			if debugAddr != "" {
				srv := newHTTPServer(log, engine, nil, debugAddr)
				go runTCPServer(ctx, log, srv, "debug")
			}
			if controlSocket != "" {
				srv, ln, err := newControlServer(log, engine, store, controlSocket)
				if err != nil {
					return fmt.Errorf("opening control socket: %w", err)
				}
				go runListener(ctx, log, srv, ln, "control")
			}

			log.Info("starting chorus node", "data_dir", dataDir, "listen", listenAddr)
			return engine.Run(ctx, tmconsensus.Height(startHeight))
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "chorus-data.db", "path to the node's sqlite data file")
	cmd.Flags().StringVar(&genesisPath, "genesis", "genesis.json", "path to genesis.json")
	cmd.Flags().StringVar(&privValPath, "priv-validator", "", "path to a priv_validator key file; omit to run as a non-voting observer")
	cmd.Flags().StringVar(&listenAddr, "p2p-listen", "/ip4/0.0.0.0/tcp/0", "libp2p listen multiaddr")
	cmd.Flags().StringSliceVar(&bootstrapPeers, "peer", nil, "bootstrap peer multiaddr (repeatable)")
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "", "TCP address for the read-only debug HTTP server; empty disables it")
	cmd.Flags().StringVar(&controlSocket, "control-socket", "", "unix socket path for the local control server; empty disables it")
	cmd.Flags().Uint64Var(&startHeight, "start-height", 1, "height to start or resume the engine at")

	return cmd
}

func peerAddrInfo(s string) (*peer.AddrInfo, error) {
	ma, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return nil, err
	}
	return peer.AddrInfoFromP2pAddr(ma)
}

// loadPrivVal reads the seed written by `chorusd genesis init` and builds the
// matching ed25519 signer. A node run without --priv-validator has no
// signer and runs as an observer.
func loadPrivVal(path string) (gcrypto.Signer, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Seed string `json:"seed_ed25519"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(doc.Seed)
	if err != nil {
		return nil, fmt.Errorf("decoding seed: %w", err)
	}
	return ged25519.NewSigner(seed), nil
}

// randomValueSource gives a signing node something to propose: chorusd is a
// consensus-core demo rather than a blockchain application, so the value it
// agrees on each height is just a timestamped marker of who proposed it.
func randomValueSource(nodeName string) func() chorusapp.Value {
	var counter uint64
	return func() chorusapp.Value {
		counter++
		return chorusapp.Value(fmt.Sprintf("%s-%d-%d", nodeName, time.Now().UnixNano(), counter))
	}
}

// newHTTPServer builds an *http.Server serving the engine's read-only debug
// routes, plus the WAL-inspection route when a store is supplied (used only
// for the unix control socket, never the TCP debug listener).
func newHTTPServer(log *slog.Logger, e *tmengine.Engine, controlStore *tmsqlite.Store, addr string) *http.Server {
	r := mux.NewRouter()
	tmengine.RegisterDebugRoutes(log, e, r)
	if controlStore != nil {
		registerControlRoutes(r, controlStore)
	}
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

func newControlServer(log *slog.Logger, e *tmengine.Engine, store *tmsqlite.Store, socketPath string) (*http.Server, net.Listener, error) {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, nil, err
	}
	srv := newHTTPServer(log, e, store, "")
	return srv, ln, nil
}

func runTCPServer(ctx context.Context, log *slog.Logger, srv *http.Server, name string) {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn(name+" server stopped", "err", err)
	}
}

func runListener(ctx context.Context, log *slog.Logger, srv *http.Server, ln net.Listener, name string) {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Warn(name+" server stopped", "err", err)
	}
}
