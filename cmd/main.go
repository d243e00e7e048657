package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	pcap "github.com/packetcap/go-sniff"
	"github.com/packetcap/go-sniff/dissect"
	"github.com/packetcap/go-sniff/filter"
	"github.com/packetcap/go-sniff/report"
	"github.com/packetcap/go-sniff/sniffer"
)

var (
	cfgFile string
	v       *viper.Viper
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, sniffer.ErrSource) {
			log.WithError(err).Error("capture aborted")
			os.Exit(2)
		}
		log.Error(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sniff [flags] [filter expression]",
	Short: "Capture packets and print a one-line dissection of each",
	Long: `Capture packets from an interface, all interfaces by default, or read them from a
pcap/pcapng file, and print one line per frame describing its IPv4, TCP, UDP and ICMP headers.
Any arguments form a tcpdump-style filter expression.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(args)
		if err != nil {
			return err
		}
		return capture(cmd.Context(), cmd.OutOrStdout(), cfg)
	},
}

var configCmd = &cobra.Command{
	Use:   "config [filter expression]",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(args)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML configuration file")
	addFlags(flags)

	var err error
	v, err = newViper(flags)
	cobra.CheckErr(err)
	rootCmd.AddCommand(configCmd)
}

func addFlags(flags *pflag.FlagSet) {
	flags.StringP("interface", "i", "", "interface from which to capture, default to all")
	flags.StringP("read", "r", "", "read packets from a pcap or pcapng file, - for stdin")
	flags.Int("snaplen", int(pcap.DefaultSnaplen), "bytes to capture from each packet")
	flags.Bool("promisc", false, "put the interface in promiscuous mode")
	flags.Duration("timeout", 0, "read timeout of the live capture, e.g. 500ms; 0 blocks until a packet arrives")
	flags.Duration("duration", 0, "stop capturing after given duration, e.g. 10s, 1m, 1h; default 0 means no limit")
	flags.IntP("count", "c", 0, "stop after this many packets; 0 means no limit")
	flags.Bool("verify-checksums", false, "treat packets with bad IPv4, TCP, UDP or ICMP checksums as malformed")
	flags.Bool("dump", false, "print a hex dump of each packet's undecoded payload")
	flags.BoolP("dump-filter", "d", false, "print the compiled filter program and exit")
	flags.Bool("debug", false, "print lots of debugging messages")
	flags.String("log-file", "", "also write logs to this file, rotated by size")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
}

// resolveConfig any arguments form the filter expression.
func resolveConfig(args []string) (*Config, error) {
	if len(args) > 0 {
		v.Set("filter", strings.Join(args, " "))
	}
	return loadConfig(v, cfgFile)
}

func capture(ctx context.Context, out io.Writer, cfg *Config) error {
	closer := setupLogging(cfg.Log)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	src, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	if cfg.DumpFilter {
		f, err := filter.Compile(cfg.Filter, src.LinkType())
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, f.Dump())
		return err
	}

	var metrics *sniffer.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = sniffer.NewMetrics(reg)
		srv := serveMetrics(cfg.MetricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	s := sniffer.New(src,
		sniffer.WithEngine(dissect.NewEngine(dissect.WithChecksumVerification(cfg.VerifyChecksums))),
		sniffer.WithReporter(report.NewWriter(out, report.WithHexDump(cfg.Dump))),
		sniffer.WithMetrics(metrics),
		sniffer.WithCount(cfg.Count),
	)
	stats, err := s.Run(ctx)
	log.WithFields(log.Fields{
		"run":      s.ID().String(),
		"frames":   stats.Frames,
		"filtered": src.Filtered(),
		"stops":    stats.Stops,
	}).Info("summary")
	return err
}

// openSource opens the file or interface the config names and applies its filter.
// Failing to open either is a source failure.
func openSource(ctx context.Context, cfg *Config) (*pcap.Source, func(), error) {
	logger := log.WithField("filter", cfg.Filter)
	if cfg.Read != "" {
		o, err := pcap.OpenOffline(cfg.Read)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", sniffer.ErrSource, err)
		}
		src, err := pcap.NewSource(o, o.LinkType(), pcap.WithFilter(cfg.Filter))
		if err != nil {
			_ = o.Close()
			return nil, nil, err
		}
		logger.WithField("file", cfg.Read).Info("reading capture file")
		return src, func() { _ = o.Close() }, nil
	}

	h, err := pcap.OpenLive(ctx, cfg.Interface, int32(cfg.Snaplen), cfg.Promisc, cfg.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", sniffer.ErrSource, err)
	}
	if cfg.Filter != "" && !cfg.DumpFilter {
		if err := h.SetBPFFilter(cfg.Filter); err != nil {
			h.Close()
			return nil, nil, fmt.Errorf("unexpected error setting filter: %w", err)
		}
	}
	// frames queued before the kernel filter was attached are checked again here
	src, err := pcap.NewSource(h, h.LinkType(), pcap.WithFilter(cfg.Filter))
	if err != nil {
		h.Close()
		return nil, nil, err
	}
	logger.WithFields(log.Fields{
		"interface": cfg.Interface,
		"linktype":  h.LinkType(),
	}).Info("capturing")
	return src, h.Close, nil
}
