/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PLAGUECOURT"

type Config struct {
	bind           string
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	advertise []string
	code      string
	history   string
	listen    string
	name      string
	relayURL  string
	timeout   time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	return nil
}

func (c *Config) validatePlay() error {
	if strings.TrimSpace(c.name) == "" {
		return errors.New("--name must not be empty")
	}

	u, err := url.Parse(c.relayURL)
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay url must use ws:// or wss://, got %q", c.relayURL)
	}
	if c.timeout <= 0 {
		return fmt.Errorf("invalid negotiation timeout: %s", c.timeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindEnv mirrors every flag in fs to a PLAGUECOURT_ environment variable.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "plaguecourt",
		Short:         "Signaling relay and peer endpoint for a social-deduction party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServeRelay(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: PLAGUECOURT_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: PLAGUECOURT_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: PLAGUECOURT_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: PLAGUECOURT_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle relay sessions are ended (env: PLAGUECOURT_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: PLAGUECOURT_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: PLAGUECOURT_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PLAGUECOURT_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: PLAGUECOURT_VERSION)")

	bindEnv(newViper(), fs)

	cmd.AddCommand(newPlayCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("plaguecourt v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newPlayCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Host or join a game session from the terminal.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validatePlay(); err != nil {
				return err
			}
			return Play(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()

	fs.StringSliceVar(&cfg.advertise, "advertise", nil, "hosts other players dial for direct links, defaults to every local address (env: PLAGUECOURT_ADVERTISE)")
	fs.StringVarP(&cfg.code, "code", "c", "", "session code to join, empty to host a new session (env: PLAGUECOURT_CODE)")
	fs.StringVar(&cfg.history, "history", "", "path to a sqlite database recording finished games (env: PLAGUECOURT_HISTORY)")
	fs.StringVarP(&cfg.listen, "listen", "l", ":0", "address to accept direct links on (env: PLAGUECOURT_LISTEN)")
	fs.StringVarP(&cfg.name, "name", "n", "", "player name (env: PLAGUECOURT_NAME)")
	fs.StringVarP(&cfg.relayURL, "relay", "r", "ws://localhost:8080/relay", "relay websocket url (env: PLAGUECOURT_RELAY)")
	fs.DurationVar(&cfg.timeout, "timeout", 20*time.Second, "direct link negotiation timeout (env: PLAGUECOURT_TIMEOUT)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PLAGUECOURT_VERBOSE)")

	bindEnv(newViper(), fs)

	return cmd
}
