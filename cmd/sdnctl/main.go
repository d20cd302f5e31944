package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"campus-sdn-controller/internal/config"
	"campus-sdn-controller/internal/controller"
	"campus-sdn-controller/internal/executor"
	"campus-sdn-controller/internal/logging"
	"campus-sdn-controller/internal/metrics"
	"campus-sdn-controller/internal/model"
	"campus-sdn-controller/internal/parser"
	"campus-sdn-controller/internal/utils"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath  string
	provider    string
	scriptPath  string
	dbDSN       string
	logLevel    string
	logFormat   string
	logFile     string
	metricsAddr string

	cfg         *config.Config
	logger      *logging.Logger
	stopMetrics context.CancelFunc
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "sdnctl",
		Short: "Decision core of the campus SDN controller",
		Long: `sdnctl loads the campus network (switch tables and policy rules) and
decides, for each packet-in observation, whether the switch floods, forwards
or drops it, installing the matching flow rule.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.stopMetrics != nil {
				opts.stopMetrics()
			}
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Configuration file (YAML); SDNCTL_CONFIG_FILE when empty")
	flags.StringVar(&opts.provider, "provider", config.ProviderYAML, "Network provider: 'yaml', 'script' or 'mariadb'")
	flags.StringVar(&opts.scriptPath, "script", "", "Network file in block syntax (for 'script' provider)")
	flags.StringVar(&opts.dbDSN, "db", "", "Database connection string (for 'mariadb' provider)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "json", "Log format (json, text)")
	flags.StringVar(&opts.logFile, "log-file", "", "Log file path (default: stderr)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(newValidateCmd(opts))
	rootCmd.AddCommand(newDecideCmd(opts))
	rootCmd.AddCommand(newReplayCmd(opts))
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration, lets explicitly set flags override it and
// initializes logging and the metrics endpoint.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Provider.Type = o.provider
	}
	if flags.Changed("script") {
		cfg.Provider.Script = o.scriptPath
		if !flags.Changed("provider") {
			cfg.Provider.Type = config.ProviderScript
		}
	}
	if flags.Changed("db") {
		cfg.Provider.DSN = o.dbDSN
		if !flags.Changed("provider") {
			cfg.Provider.Type = config.ProviderMariaDB
		}
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = o.logFormat
	}
	if flags.Changed("log-file") {
		cfg.Logging.File = o.logFile
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Address = o.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logOpts := logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.File,
		AddCaller:  true,
	}
	if logOpts.OutputPath == "" {
		// stdout carries command output
		logOpts.Output = cmd.ErrOrStderr()
	}
	logger, err := logging.InitGlobalLogger(logOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	o.cfg = cfg
	o.logger = logger

	if cfg.Metrics.Address != "" {
		ctx, cancel := context.WithCancel(cmd.Context())
		o.stopMetrics = cancel
		serveMetrics(ctx, cfg.Metrics.Address, logger)
	}
	return nil
}

// serveMetrics serves /metrics until ctx is done. The returned channel is
// closed once the server has stopped.
func serveMetrics(ctx context.Context, addr string, logger *logging.Logger) <-chan struct{} {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		logger.Info("Serving metrics", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "Metrics server stopped", "address", addr)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "Metrics server shutdown failed", "address", addr)
		}
	}()
	return stopped
}

// buildController loads and resolves the configured network and wires the
// decision pipeline to channel.
func (o *rootOptions) buildController(ctx context.Context, channel executor.SwitchChannel) (*controller.Controller, error) {
	spec, err := parser.LoadNetwork(ctx, o.cfg)
	if err != nil {
		return nil, err
	}
	snap, err := controller.NewSnapshot(spec)
	metrics.RecordReload(err)
	if err != nil {
		return nil, err
	}

	exec := executor.New(channel, executor.Options{
		IdleTimeout:    o.cfg.Flow.IdleTimeout,
		HardTimeout:    o.cfg.Flow.HardTimeout,
		AcceptPriority: o.cfg.Flow.AcceptPriority,
		DropPriority:   o.cfg.Flow.DropPriority,
	}, o.logger.WithName("executor"))
	return controller.New(snap, exec, o.logger.WithName("controller")), nil
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and resolve the network configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := parser.LoadNetwork(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			snap, err := controller.NewSnapshot(spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: provider=%s switches=%d exact_hosts=%d rules=%d\n",
				opts.cfg.Provider.Type, snap.Tables.Len(), snap.Classifier.ExactHosts(), len(snap.Engine.Rules))
			return nil
		},
	}
}

type decideOptions struct {
	switchID uint64
	inPort   uint32
	proto    string
	src      string
	dst      string
	sport    uint16
	dport    uint16
}

func newDecideCmd(opts *rootOptions) *cobra.Command {
	d := &decideOptions{}
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Decide a single packet-in observation",
		Example: `  sdnctl decide --switch 1 --in-port 3 --proto tcp --src 169.233.4.1 --dst 169.233.3.10 --dport 80
  sdnctl decide --switch 2 --in-port 5 --proto arp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := d.observation()
			if err != nil {
				return err
			}
			rec := executor.NewRecorder()
			ctrl, err := opts.buildController(cmd.Context(), rec)
			if err != nil {
				return err
			}
			result, err := ctrl.HandlePacketIn(cmd.Context(), obs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "decision=%s reason=%s", result.Decision, result.Decision.Reason)
			if result.Decision.RuleID != "" {
				fmt.Fprintf(out, " rule=%s", result.Decision.RuleID)
			}
			if result.SrcIP != "" {
				fmt.Fprintf(out, " src_subnet=%s dst_subnet=%s", result.SrcSubnet, result.DstSubnet)
			}
			if result.Service != "" {
				fmt.Fprintf(out, " service=%s", result.Service)
			}
			fmt.Fprintln(out)
			if effect, ok := rec.Last(); ok {
				fmt.Fprintf(out, "effect: %s\n", effect)
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&d.switchID, "switch", 0, "Datapath id of the switch reporting the packet (required)")
	cmd.Flags().Uint32Var(&d.inPort, "in-port", 1, "Ingress port")
	cmd.Flags().StringVar(&d.proto, "proto", "tcp", "Protocol: arp, icmp, tcp, udp or ip")
	cmd.Flags().StringVar(&d.src, "src", "", "Source IPv4 address")
	cmd.Flags().StringVar(&d.dst, "dst", "", "Destination IPv4 address")
	cmd.Flags().Uint16Var(&d.sport, "sport", 40000, "TCP/UDP source port")
	cmd.Flags().Uint16Var(&d.dport, "dport", 80, "TCP/UDP destination port")
	cmd.MarkFlagRequired("switch")
	return cmd
}

func (d *decideOptions) observation() (*model.Observation, error) {
	proto, err := model.ParseProtocol(d.proto)
	if err != nil {
		return nil, err
	}
	if proto == model.Any {
		return nil, fmt.Errorf("--proto must name a concrete protocol")
	}
	if proto == model.ARP {
		return parser.BuildObservation(model.SwitchID(d.switchID), d.inPort, proto, nil, nil, 0, 0, model.NoBuffer), nil
	}
	src, ok := utils.ParseIPv4(d.src)
	if !ok {
		return nil, fmt.Errorf("invalid --src address %q", d.src)
	}
	dst, ok := utils.ParseIPv4(d.dst)
	if !ok {
		return nil, fmt.Errorf("invalid --dst address %q", d.dst)
	}
	return parser.BuildObservation(model.SwitchID(d.switchID), d.inPort, proto, src, dst, d.sport, d.dport, model.NoBuffer), nil
}

func workerCount(flag int, configured int) int {
	switch {
	case flag > 0:
		return flag
	case configured > 0:
		return configured
	default:
		return runtime.NumCPU()
	}
}

func isExpand(mode string) bool {
	return strings.EqualFold(mode, config.ModeExpand)
}
