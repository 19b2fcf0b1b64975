package commands

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openvw/lludp/internal/netutil"
	"github.com/openvw/lludp/pkg/circuit"
	"github.com/openvw/lludp/pkg/message"
	"github.com/openvw/lludp/pkg/metrics"
	"github.com/openvw/lludp/pkg/transport"
)

var (
	simAddr     string
	circuitCode uint32
	agentID     string
	sessionID   string
	fast        bool
	logDB       string
	metricsAddr string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "lludp-chat",
	Short: "Chat client speaking the circuit transport",
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(); err != nil {
			logrus.Fatal(err)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&simAddr, "sim", "s", "", "simulator address, host:port")
	rootCmd.Flags().Uint32Var(&circuitCode, "circuit-code", 0, "circuit code from the login response")
	rootCmd.Flags().StringVar(&agentID, "agent", "", "agent UUID (random if empty)")
	rootCmd.Flags().StringVar(&sessionID, "session", "", "session UUID (random if empty)")
	rootCmd.Flags().BoolVar(&fast, "fast", false, "use the high-bandwidth throttle profile")
	rootCmd.Flags().StringVar(&logDB, "log-db", "", "traffic log database path (default ~/.lludp/traffic.db)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on this address")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")

	rootCmd.MarkFlagRequired("sim") // nolint: errcheck
}

func run() error {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(lvl)

	peer, err := parsePeer(simAddr)
	if err != nil {
		return err
	}

	agent, session, err := identities()
	if err != nil {
		return err
	}

	store, err := openLogStore(log)
	if err != nil {
		return err
	}
	defer store.Close() // nolint: errcheck

	cfg := transport.DefaultConfig()
	if fast {
		cfg.MaxBytesPerSecond = transport.ThrottleFast
	}

	t, err := transport.New(cfg, nil, store, log)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		t.SetMetrics(metrics.NewTransportMetrics("lludp"))
		go func() {
			if err := http.ListenAndServe(metricsAddr, promhttp.Handler()); err != nil {
				log.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go t.Serve(ctx) // nolint: errcheck

	handshake := make(chan struct{}, 1)
	t.RegisterHandler("RegionHandshake", func(from circuit.Peer, body message.Body) {
		name, _ := body.Get("RegionInfo", "RegionName").(string)
		log.WithField("region", name).Info("Region handshake received")

		reply := message.Body{
			"AgentData":  {{"AgentID": agent, "SessionID": session}},
			"RegionInfo": {{"Flags": uint32(0)}},
		}
		if _, err := t.Send(from, "RegionHandshakeReply", reply, transport.Reliable); err != nil {
			log.WithError(err).Warn("Handshake reply failed")
		}
		select {
		case handshake <- struct{}{}:
		default:
		}
	})

	t.RegisterHandler("ChatFromSimulator", func(_ circuit.Peer, body message.Body) {
		from, _ := body.Get("ChatData", "FromName").(string)
		text, _ := body.Get("ChatData", "Message").(string)
		fmt.Printf("%s: %s\n", from, text)
	})

	if err := establish(t, peer, agent, session, handshake, log); err != nil {
		return err
	}
	log.Info("Circuit established")

	go readChat(t, peer, agent, session, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logout := message.Body{"AgentData": {{"AgentID": agent, "SessionID": session}}}
	if _, err := t.Send(peer, "LogoutRequest", logout, transport.Reliable); err != nil {
		log.WithError(err).Warn("Logout not sent")
	}

	if snap, ok := t.Statistics(peer); ok {
		log.WithFields(logrus.Fields{
			"packets_out": snap.PacketsOut,
			"packets_in":  snap.PacketsIn,
			"lost":        snap.PacketsLost,
			"ping":        snap.Ping.String(),
			"health":      snap.Health.String(),
		}).Info("Session statistics")
	}

	t.Close()
	return nil
}

// establish opens the circuit: UseCircuitCode then CompleteAgentMovement,
// retried with backoff until the region answers with its handshake.
func establish(t *transport.Transport, peer circuit.Peer, agent, session uuid.UUID, handshake <-chan struct{}, log logrus.FieldLogger) error {
	r := netutil.NewRetrier(2*time.Second, 30*time.Second, 2).WithLogger(log)

	return r.Do(func() error {
		open := message.Body{
			"CircuitCode": {{"Code": circuitCode, "SessionID": session, "ID": agent}},
		}
		if _, err := t.Send(peer, "UseCircuitCode", open, transport.Critical); err != nil {
			return err
		}

		move := message.Body{
			"AgentData": {{"AgentID": agent, "SessionID": session, "CircuitCode": circuitCode}},
		}
		if _, err := t.Send(peer, "CompleteAgentMovement", move, transport.Reliable); err != nil {
			return err
		}

		select {
		case <-handshake:
			return nil
		case <-time.After(5 * time.Second):
			return fmt.Errorf("no region handshake from %s", peer)
		}
	})
}

func readChat(t *transport.Transport, peer circuit.Peer, agent, session uuid.UUID, log logrus.FieldLogger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}

		body := message.Body{
			"AgentData": {{"AgentID": agent, "SessionID": session}},
			"ChatData":  {{"Message": text, "Type": uint8(1), "Channel": uint32(0)}},
		}
		if _, err := t.Send(peer, "ChatFromViewer", body, transport.Reliable); err != nil {
			log.WithError(err).Warn("Chat not sent")
		}
	}
}

func parsePeer(addr string) (circuit.Peer, error) {
	udp, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return circuit.Peer{}, fmt.Errorf("resolve simulator address: %w", err)
	}
	return circuit.PeerFromAddr(udp), nil
}

func identities() (agent, session uuid.UUID, err error) {
	agent, session = uuid.New(), uuid.New()
	if agentID != "" {
		if agent, err = uuid.Parse(agentID); err != nil {
			return agent, session, fmt.Errorf("parse agent id: %w", err)
		}
	}
	if sessionID != "" {
		if session, err = uuid.Parse(sessionID); err != nil {
			return agent, session, fmt.Errorf("parse session id: %w", err)
		}
	}
	return agent, session, nil
}

func openLogStore(log logrus.FieldLogger) (transport.LogStore, error) {
	path := logDB
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			log.WithError(err).Warn("Home directory unavailable, traffic log kept in memory")
			return transport.InMemoryLogStore(), nil
		}
		path = filepath.Join(home, ".lludp", "traffic.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return transport.BoltLogStore(path)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
