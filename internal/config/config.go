// Package config parses command-line flags with environment-variable
// overrides for both SPEEDD and LRCP binaries, grounded on the teacher's
// cmd/can-server/config.go: flag.Visit tracks which flags were explicitly
// set so an env var never clobbers an explicit flag, then validate()
// performs semantic range/enum checks before the caller opens any socket.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SpeeddConfig holds the TCP-facing SPEEDD server configuration (§4.6).
type SpeeddConfig struct {
	ListenAddr      string
	LogFormat       string
	LogLevel        string
	MetricsAddr     string
	LogMetricsEvery time.Duration
	ClientReadTO    time.Duration
	MaxClients      int
	MdnsEnable      bool
	MdnsName        string
}

// ParseSpeeddFlags parses os.Args for cmd/speedd, applying SPEEDD_* env
// overrides to any flag not explicitly set, then validates the result.
func ParseSpeeddFlags() (*SpeeddConfig, bool) {
	cfg := &SpeeddConfig{}
	listen := flag.String("listen", ":20000", "TCP listen address for SPEEDD clients")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	clientReadTO := flag.Duration("client-read-timeout", 0, "Per-connection read deadline, set once when the connection is accepted and not extended by activity (0 = disabled; SPEEDD clients are otherwise long-lived)")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/zeroconf advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default _speedd._tcp-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	set := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })

	cfg.ListenAddr = *listen
	cfg.LogFormat = *logFormat
	cfg.LogLevel = *logLevel
	cfg.MetricsAddr = *metricsAddr
	cfg.LogMetricsEvery = *logMetricsEvery
	cfg.ClientReadTO = *clientReadTO
	cfg.MaxClients = *maxClients
	cfg.MdnsEnable = *mdnsEnable
	cfg.MdnsName = *mdnsName

	if err := applySpeeddEnv(cfg, set); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func (c *SpeeddConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.LogLevel)
	}
	if c.ListenAddr == "" {
		return errors.New("listen address must not be empty")
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.ClientReadTO < 0 {
		return fmt.Errorf("client-read-timeout must be >= 0")
	}
	return nil
}

func applySpeeddEnv(c *SpeeddConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["listen"]; !ok {
		if v, ok := get("SPEEDD_LISTEN"); ok && v != "" {
			c.ListenAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("SPEEDD_LOG_FORMAT"); ok && v != "" {
			c.LogFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("SPEEDD_LOG_LEVEL"); ok && v != "" {
			c.LogLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("SPEEDD_METRICS"); ok {
			c.MetricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("SPEEDD_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.LogMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SPEEDD_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["client-read-timeout"]; !ok {
		if v, ok := get("SPEEDD_CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.ClientReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SPEEDD_CLIENT_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("SPEEDD_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.MaxClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SPEEDD_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("SPEEDD_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.MdnsEnable = true
			case "0", "false", "no", "off":
				c.MdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("SPEEDD_MDNS_NAME"); ok && v != "" {
			c.MdnsName = v
		}
	}
	return firstErr
}

// LRCPConfig holds the UDP-facing LRCP listener configuration (§4.8-4.9).
type LRCPConfig struct {
	ListenAddr      string
	LogFormat       string
	LogLevel        string
	MetricsAddr     string
	LogMetricsEvery time.Duration
	RetransmitEvery time.Duration
	SessionExpiry   time.Duration
	RecvBufBytes    int
	MdnsEnable      bool
	MdnsName        string
}

// ParseLRCPFlags parses os.Args for cmd/lrcpd, applying LRCPD_* env
// overrides to any flag not explicitly set, then validates the result.
func ParseLRCPFlags() (*LRCPConfig, bool) {
	cfg := &LRCPConfig{}
	listen := flag.String("listen", ":20000", "UDP listen address for LRCP sessions")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	retransmit := flag.Duration("retransmission-timeout", 3*time.Second, "LRCP retransmission interval")
	expiry := flag.Duration("session-expiry-timeout", 60*time.Second, "LRCP inactivity timeout before a session is abandoned")
	recvBuf := flag.Int("udp-recv-buffer", 0, "OS UDP receive buffer size in bytes (0 = OS default, Linux-only tuning)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/zeroconf advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default _lrcp._udp-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	set := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })

	cfg.ListenAddr = *listen
	cfg.LogFormat = *logFormat
	cfg.LogLevel = *logLevel
	cfg.MetricsAddr = *metricsAddr
	cfg.LogMetricsEvery = *logMetricsEvery
	cfg.RetransmitEvery = *retransmit
	cfg.SessionExpiry = *expiry
	cfg.RecvBufBytes = *recvBuf
	cfg.MdnsEnable = *mdnsEnable
	cfg.MdnsName = *mdnsName

	if err := applyLRCPEnv(cfg, set); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func (c *LRCPConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.LogLevel)
	}
	if c.RetransmitEvery <= 0 {
		return errors.New("retransmission-timeout must be > 0")
	}
	if c.SessionExpiry <= 0 {
		return errors.New("session-expiry-timeout must be > 0")
	}
	if c.RecvBufBytes < 0 {
		return errors.New("udp-recv-buffer must be >= 0")
	}
	return nil
}

func applyLRCPEnv(c *LRCPConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["listen"]; !ok {
		if v, ok := get("LRCPD_LISTEN"); ok && v != "" {
			c.ListenAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("LRCPD_LOG_FORMAT"); ok && v != "" {
			c.LogFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("LRCPD_LOG_LEVEL"); ok && v != "" {
			c.LogLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("LRCPD_METRICS"); ok {
			c.MetricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("LRCPD_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.LogMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LRCPD_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["retransmission-timeout"]; !ok {
		if v, ok := get("LRCPD_RETRANSMISSION_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.RetransmitEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LRCPD_RETRANSMISSION_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["session-expiry-timeout"]; !ok {
		if v, ok := get("LRCPD_SESSION_EXPIRY_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.SessionExpiry = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LRCPD_SESSION_EXPIRY_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["udp-recv-buffer"]; !ok {
		if v, ok := get("LRCPD_UDP_RECV_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.RecvBufBytes = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid LRCPD_UDP_RECV_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("LRCPD_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.MdnsEnable = true
			case "0", "false", "no", "off":
				c.MdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("LRCPD_MDNS_NAME"); ok && v != "" {
			c.MdnsName = v
		}
	}
	return firstErr
}
