// Command softphonectl is a demo CLI wiring a Coordinator for a single
// outgoing or incoming call, adapted from the teacher repo's
// cmd/test_sip demo harness to this module's coordinator/dialogfsm/sdpneg
// stack.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"

	"github.com/arzzra/voxcore/internal/config"
	"github.com/arzzra/voxcore/internal/telemetry"
	"github.com/arzzra/voxcore/pkg/coordinator"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:5060", "SIP listen address")
		username   = flag.String("user", "alice", "local username")
		domain     = flag.String("domain", "example.com", "local domain")
		mode       = flag.String("mode", "server", "mode: server, client")
		target     = flag.String("target", "sip:bob@127.0.0.1:5061", "target URI for outgoing call")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	tel := telemetry.New(telemetry.WithLevel(level), telemetry.WithComponent("softphonectl"))

	cfg := config.New(
		config.WithUserAgent("voxcore/softphonectl"),
		config.WithRTPPortRange(20000, 20100),
	)

	udpTransportFactory := func(localPort int) (coordinator.Transport, error) {
		addr := &net.UDPAddr{IP: net.IPv4zero, Port: localPort}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return nil, err
		}
		return udpTransport{conn}, nil
	}

	co := coordinator.New(cfg, tel,
		coordinator.WithTransportFactory(udpTransportFactory),
		coordinator.WithEventHandler(func(e coordinator.Event) {
			tel.Log.Info().Str("call", string(e.CallID)).Int("kind", int(e.Kind)).Msg("call event")
		}),
	)

	switch *mode {
	case "server":
		runServer(co, *listenAddr, *username, *domain, tel)
	case "client":
		runClient(co, *listenAddr, *username, *domain, *target, tel)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q: want server or client\n", *mode)
		os.Exit(1)
	}
}

type udpTransport struct {
	conn *net.UDPConn
}

func (t udpTransport) WriteTo(b []byte, addr net.Addr) (int, error) { return t.conn.WriteTo(b, addr) }
func (t udpTransport) LocalAddr() net.Addr                          { return t.conn.LocalAddr() }

func runServer(co *coordinator.Coordinator, listenAddr, username, domain string, tel *telemetry.Telemetry) {
	tel.Log.Info().Str("addr", listenAddr).Str("user", username).Msg("waiting for inbound calls")
	waitForSignal()
}

func runClient(co *coordinator.Coordinator, listenAddr, username, domain, target string, tel *telemetry.Telemetry) {
	ctx := context.Background()
	from := sip.Uri{User: username, Host: domain}
	to, err := parseSipURI(target)
	if err != nil {
		tel.Log.Fatal().Err(err).Str("target", target).Msg("invalid target URI")
	}

	callID, err := co.CreateOutgoingCall(ctx, from, to)
	if err != nil {
		tel.Log.Fatal().Err(err).Msg("create_outgoing_call failed")
	}
	tel.Log.Info().Str("call", string(callID)).Str("target", target).Msg("INVITE sent")

	waitForSignal()
}

func parseSipURI(raw string) (sip.Uri, error) {
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return sip.Uri{}, err
	}
	return uri, nil
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	time.Sleep(100 * time.Millisecond) // short grace period before exit; no BYE is sent
}
