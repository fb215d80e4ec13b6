package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wiremesh/agent/internal/allocate"
	"github.com/wiremesh/agent/internal/coordsession"
	"github.com/wiremesh/agent/internal/identity"
	"github.com/wiremesh/agent/internal/localstate"
	"github.com/wiremesh/agent/internal/metrics"
	"github.com/wiremesh/agent/internal/networkd"
	"github.com/wiremesh/agent/internal/ownership"
	"github.com/wiremesh/agent/internal/reconcile"
	"github.com/wiremesh/agent/internal/registry"
)

// drainTimeout is the maximum time to wait for the reconcile loop to
// exit cleanly after shutdown is triggered.
const drainTimeout = 30 * time.Second

var upFlags struct {
	consulAddress string
	consulToken   string
	consulPrefix  string
	updatePeriod  time.Duration
	wgInterface   string
	wgPort        int
	peerTimeout   time.Duration
	keepalive     time.Duration

	// peerTimeoutFile carries reconcile.peer_timeout from --config when
	// --peer-timeout was not also passed on the command line. It needs
	// its own tri-state, same as upFlags.peerTimeout: an explicit "0s"
	// in the file must disable the sweep, not fall back to the default.
	peerTimeoutFile *time.Duration

	endpointInterface string
	endpointAddress   string

	networkBackend string
	networkdDir    string

	address string
	network string

	dataDir        string
	metricsAddress string
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the wiremesh-agent daemon",
	Long: "Start the wiremesh-agent daemon. Allocates a tunnel address on first\n" +
		"boot, joins the registry under a session lock, and enters the reconcile\n" +
		"loop.",
	RunE: runUp,
}

func init() {
	f := upCmd.Flags()
	f.StringVar(&upFlags.consulAddress, "consul-address", registry.DefaultAddress, "base URL of the registry HTTP API")
	f.StringVar(&upFlags.consulToken, "consul-token", "", "bearer token, sent as X-Consul-Token")
	f.StringVar(&upFlags.consulPrefix, "consul-prefix", registry.DefaultPrefix, "key prefix for this mesh")
	f.DurationVar(&upFlags.updatePeriod, "update-period", reconcile.DefaultUpdatePeriod, "reconcile tick")
	f.StringVar(&upFlags.wgInterface, "wg-interface", networkd.DefaultInterfaceName, "name of the WireGuard interface")
	f.IntVar(&upFlags.wgPort, "wg-port", 51820, "UDP listen port")
	f.DurationVar(&upFlags.peerTimeout, "peer-timeout", reconcile.DefaultPeerTimeout, "inactivity horizon; 0 disables")
	f.DurationVar(&upFlags.keepalive, "keepalive", networkd.DefaultKeepaliveSeconds*time.Second, "PersistentKeepalive in rendered config")
	f.StringVar(&upFlags.endpointInterface, "endpoint-interface", "", "local interface to derive the public endpoint from")
	f.StringVar(&upFlags.endpointAddress, "endpoint-address", "", "public reachability address")
	f.StringVar(&upFlags.networkBackend, "network-backend", "networkd", "rendering backend")
	f.StringVar(&upFlags.networkdDir, "networkd-dir", networkd.DefaultDir, "output directory for rendered unit files")
	f.StringVar(&upFlags.address, "address", "", "explicit tunnel address override")
	f.StringVar(&upFlags.network, "network", "", "overlay subnet (CIDR), required")
	f.StringVar(&upFlags.dataDir, "data-dir", DefaultDataDir, "directory for persistent agent state")
	f.StringVar(&upFlags.metricsAddress, "metrics-address", "127.0.0.1:9090", "loopback address to expose Prometheus metrics on")

	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadFileConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("wiremesh-agent up: %w", err)
	}
	if err := applyFileConfigOverrides(cmd, fileCfg); err != nil {
		return fmt.Errorf("wiremesh-agent up: %w", err)
	}

	instanceID := uuid.New().String()
	logger := setupLogger(verbosity).With("instance", instanceID)

	if upFlags.networkBackend != "networkd" {
		return fmt.Errorf("wiremesh-agent up: unsupported --network-backend %q (only \"networkd\" is implemented)", upFlags.networkBackend)
	}
	if upFlags.network == "" {
		return errors.New("wiremesh-agent up: --network is required")
	}
	subnet, err := netip.ParsePrefix(upFlags.network)
	if err != nil {
		return fmt.Errorf("wiremesh-agent up: parse --network: %w", err)
	}
	if upFlags.endpointInterface == "" && upFlags.endpointAddress == "" {
		return errors.New("wiremesh-agent up: exactly one of --endpoint-interface or --endpoint-address is required")
	}
	if upFlags.endpointInterface != "" && upFlags.endpointAddress != "" {
		return errors.New("wiremesh-agent up: only one of --endpoint-interface or --endpoint-address may be set")
	}

	endpointHost, err := resolveEndpointHost(upFlags.endpointInterface, upFlags.endpointAddress)
	if err != nil {
		return fmt.Errorf("wiremesh-agent up: %w", err)
	}
	endpoint := net.JoinHostPort(endpointHost, fmt.Sprintf("%d", upFlags.wgPort))

	registryCfg := registry.Config{
		Address: upFlags.consulAddress,
		Token:   upFlags.consulToken,
		Prefix:  upFlags.consulPrefix,
	}
	registryClient, err := registry.NewClient(registryCfg, logger)
	if err != nil {
		return fmt.Errorf("wiremesh-agent up: create registry client: %w", err)
	}

	local, err := loadOrCreateLocalConfig(registryClient, subnet)
	if err != nil {
		return fmt.Errorf("wiremesh-agent up: %w", err)
	}
	local.Address = withPrefixLength(local.Address, subnet)

	logger.Info("starting wiremesh-agent",
		"version", buildVersion,
		"public_key", local.PublicKeyB64,
		"address", local.Address,
	)

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	sessionCfg := coordsession.Config{TTL: coordsession.TTL}
	supervisor := coordsession.New(registryClient, sessionCfg, logger)
	sessID, err := supervisor.Open()
	if err != nil {
		return fmt.Errorf("wiremesh-agent up: open session: %w", err)
	}

	ownRecord := local.OwnPeerRecord(endpoint)
	if err := registryClient.PutOwnRecord(sessID, ownRecord); err != nil {
		return fmt.Errorf("wiremesh-agent up: initial putOwnRecord: %w", err)
	}

	recordKey, err := registryClient.RecordKey(local.PublicKeyB64)
	if err != nil {
		return fmt.Errorf("wiremesh-agent up: compute record key: %w", err)
	}

	reg := prometheusRegistry()
	agentMetrics := metrics.New(reg)
	metricsServer := metrics.NewServer(upFlags.metricsAddress, reg)

	verifier := ownership.New(registryClient, recordKey, sessID, logger)

	// cmd.Flags().Changed distinguishes an operator explicitly passing
	// --peer-timeout 0 (disable the sweep) from leaving the flag unset
	// (use reconcile.DefaultPeerTimeout); Config.PeerTimeout's own zero
	// value cannot carry that distinction. A --peer-timeout flag always
	// wins over a reconcile.peer_timeout set in --config.
	var peerTimeout *time.Duration
	switch {
	case cmd.Flags().Changed("peer-timeout"):
		peerTimeout = &upFlags.peerTimeout
	case upFlags.peerTimeoutFile != nil:
		peerTimeout = upFlags.peerTimeoutFile
	}

	reconcileCfg := reconcile.Config{
		UpdatePeriod: upFlags.updatePeriod,
		PeerTimeout:  peerTimeout,
		SessionTTL:   coordsession.TTL,
		DataDir:      upFlags.dataDir,
		Endpoint:     endpoint,
	}
	netCfg := networkd.Config{
		InterfaceName: upFlags.wgInterface,
		Dir:           upFlags.networkdDir,
		Keepalive:     int(upFlags.keepalive.Seconds()),
	}
	loop := reconcile.New(registryClient, reconcileCfg, netCfg, supervisor.SessionID, logger, agentMetrics)

	return runSteadyState(rootCtx, logger, supervisor, verifier, loop, metricsServer)
}

// runSteadyState runs the four steady-state tasks and enforces the
// shutdown ordering: the Ownership Verifier is cancelled first (so it
// does not race the session's destruction), then the Session
// Supervisor (which destroys the session), then the Reconcile Loop is
// allowed to drain.
func runSteadyState(rootCtx context.Context, logger *slog.Logger, supervisor *coordsession.Supervisor, verifier *ownership.Verifier, loop *reconcile.Loop, metricsServer *http.Server) error {
	verifierCtx, cancelVerifier := context.WithCancel(context.Background())
	supervisorCtx, cancelSupervisor := context.WithCancel(context.Background())
	loopCtx, cancelLoop := context.WithCancel(context.Background())

	verifierDone := make(chan struct{})
	supervisorDone := make(chan struct{})
	loopDone := make(chan struct{})
	shutdownStarted := make(chan struct{})

	var once sync.Once
	shutdown := func(reason string) {
		once.Do(func() {
			close(shutdownStarted)
			logger.Info("shutting down", "reason", reason)
			cancelVerifier()
			<-verifierDone
			supervisor.Shutdown()
			cancelSupervisor()
			<-supervisorDone
			cancelLoop()
			_ = metricsServer.Close()
		})
	}

	onFatal := func(err error) { go shutdown(fmt.Sprintf("fatal: %v", err)) }

	go func() {
		defer close(verifierDone)
		verifier.Run(verifierCtx, onFatal)
	}()
	go func() {
		defer close(supervisorDone)
		supervisor.Run(supervisorCtx, onFatal)
	}()
	go func() {
		defer close(loopDone)
		loop.Run(loopCtx)
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	go func() {
		<-rootCtx.Done()
		shutdown("signal")
	}()

	<-shutdownStarted
	select {
	case <-loopDone:
	case <-time.After(drainTimeout):
		logger.Warn("drain timeout exceeded, forcing exit")
	}

	logger.Info("wiremesh-agent stopped")
	return nil
}

// loadOrCreateLocalConfig loads the persisted LocalConfig, or on first
// boot generates a keypair, allocates a tunnel address and persists it.
func loadOrCreateLocalConfig(registryClient *registry.Client, subnet netip.Prefix) (*localstate.LocalConfig, error) {
	local, err := localstate.Load(upFlags.dataDir)
	if err == nil {
		return local, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load local config: %w", err)
	}

	peers, err := registryClient.ListPeers()
	if err != nil {
		return nil, fmt.Errorf("list peers for address allocation: %w", err)
	}

	var override netip.Addr
	if upFlags.address != "" {
		override, err = netip.ParseAddr(upFlags.address)
		if err != nil {
			return nil, fmt.Errorf("parse --address: %w", err)
		}
	}

	addr, err := allocate.Allocate(subnet, peers, override)
	if err != nil {
		return nil, fmt.Errorf("allocate address: %w", err)
	}

	kp, err := identity.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	local = &localstate.LocalConfig{
		InterfaceName: upFlags.wgInterface,
		ListenPort:    upFlags.wgPort,
		Address:       fmt.Sprintf("%s/%d", addr, subnet.Bits()),
		PrivateKeyB64: kp.EncodePrivateKey(),
		PublicKeyB64:  kp.EncodePublicKey(),
	}
	if err := localstate.Save(upFlags.dataDir, local); err != nil {
		return nil, fmt.Errorf("save local config: %w", err)
	}
	return local, nil
}

// withPrefixLength ensures addr carries subnet's prefix length, in
// case it was persisted without one by an older LocalConfig.
func withPrefixLength(addr string, subnet netip.Prefix) string {
	if parsed, err := netip.ParsePrefix(addr); err == nil {
		return parsed.String()
	}
	if ip, err := netip.ParseAddr(addr); err == nil {
		return fmt.Sprintf("%s/%d", ip, subnet.Bits())
	}
	return addr
}

// resolveEndpointHost returns the public reachability host: either the
// literal --endpoint-address, or the first usable address on
// --endpoint-interface.
func resolveEndpointHost(ifaceName, address string) (string, error) {
	if address != "" {
		return address, nil
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return "", fmt.Errorf("lookup interface %s: %w", ifaceName, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", fmt.Errorf("read addresses for interface %s: %w", ifaceName, err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			return ipNet.IP.String(), nil
		}
	}
	return "", fmt.Errorf("interface %s has no usable address", ifaceName)
}

// applyFileConfigOverrides fills in flag values left at their CLI
// default from the optional --config file. A flag explicitly passed on
// the command line always wins over the file.
func applyFileConfigOverrides(cmd *cobra.Command, fc *fileConfig) error {
	if fc == nil {
		return nil
	}
	if upFlags.consulAddress == registry.DefaultAddress && fc.Registry.Address != "" {
		upFlags.consulAddress = fc.Registry.Address
	}
	if upFlags.consulToken == "" && fc.Registry.Token != "" {
		upFlags.consulToken = fc.Registry.Token
	}
	if upFlags.consulPrefix == registry.DefaultPrefix && fc.Registry.Prefix != "" {
		upFlags.consulPrefix = fc.Registry.Prefix
	}
	if upFlags.network == "" && fc.Network != "" {
		upFlags.network = fc.Network
	}
	if upFlags.address == "" && fc.Address != "" {
		upFlags.address = fc.Address
	}
	if upFlags.endpointInterface == "" && fc.EndpointInterface != "" {
		upFlags.endpointInterface = fc.EndpointInterface
	}
	if upFlags.endpointAddress == "" && fc.EndpointAddress != "" {
		upFlags.endpointAddress = fc.EndpointAddress
	}
	if upFlags.dataDir == DefaultDataDir && fc.DataDir != "" {
		upFlags.dataDir = fc.DataDir
	}
	if upFlags.metricsAddress == "127.0.0.1:9090" && fc.MetricsAddress != "" {
		upFlags.metricsAddress = fc.MetricsAddress
	}
	if !cmd.Flags().Changed("wg-port") && fc.WireGuardPort != 0 {
		upFlags.wgPort = fc.WireGuardPort
	}
	if !cmd.Flags().Changed("wg-interface") && fc.Networkd.InterfaceName != "" {
		upFlags.wgInterface = fc.Networkd.InterfaceName
	}
	if !cmd.Flags().Changed("networkd-dir") && fc.Networkd.Dir != "" {
		upFlags.networkdDir = fc.Networkd.Dir
	}
	if !cmd.Flags().Changed("keepalive") && fc.Networkd.Keepalive != 0 {
		upFlags.keepalive = time.Duration(fc.Networkd.Keepalive) * time.Second
	}

	if !cmd.Flags().Changed("update-period") && fc.Reconcile.UpdatePeriod != "" {
		d, err := time.ParseDuration(fc.Reconcile.UpdatePeriod)
		if err != nil {
			return fmt.Errorf("config: reconcile.update_period: %w", err)
		}
		upFlags.updatePeriod = d
	}
	// PeerTimeout is resolved to a *time.Duration in runUp, not here:
	// the file's value must still lose to an explicit --peer-timeout,
	// and "0s" in the file must be distinguishable from "absent".
	if !cmd.Flags().Changed("peer-timeout") && fc.Reconcile.PeerTimeout != "" {
		d, err := time.ParseDuration(fc.Reconcile.PeerTimeout)
		if err != nil {
			return fmt.Errorf("config: reconcile.peer_timeout: %w", err)
		}
		upFlags.peerTimeoutFile = &d
	}
	return nil
}

// prometheusRegistry returns the registry metrics are collected into.
// Using an explicit registry rather than the global default keeps
// process-level collector registration out of library init order.
func prometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return reg
}

func setupLogger(verbosity int) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbosity >= 2:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
