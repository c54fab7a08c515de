// Package cli wires the historian commands: the HTTP server and offline
// query, spectrum, import and series tools that open the store directly.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vjranagit/historian/internal/config"
	"github.com/vjranagit/historian/internal/logging"
	"github.com/vjranagit/historian/pkg/api"
	"github.com/vjranagit/historian/pkg/storage"
)

// Version is the release reported by --version
var Version = "0.3.0"

type app struct {
	configPath string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the command tree on the process streams
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

// NewRootCommandWithIO builds the command tree on the given streams
func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{stdin: in, stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:   "historian",
		Short: "Point value historian",
		Long: `historian stores SCADA point values and serves raw, rolled up and simplified
queries plus FFT spectra over HTTP.

The query, fft, import and series commands open the store directly and cannot
run while a server holds it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to historian.yaml (default: ./historian.yaml or /etc/historian/historian.yaml)")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newQueryCmd(a))
	cmd.AddCommand(newFFTCmd(a))
	cmd.AddCommand(newImportCmd(a))
	cmd.AddCommand(newSeriesCmd(a))
	return cmd
}

// loadConfig reads and validates the configuration
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// env is what every command needs: configuration, a logger and the store
type env struct {
	cfg   *config.Config
	log   *zap.Logger
	store storage.Storage

	logCloser io.Closer
}

func (a *app) open() (*env, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStorage(cfg.ToStorageConfig(), log)
	if err != nil {
		log.Sync()
		closer.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return &env{cfg: cfg, log: log, store: store, logCloser: closer}, nil
}

func (e *env) apiOptions() (api.Options, error) {
	loc, err := e.cfg.Location()
	if err != nil {
		return api.Options{}, err
	}
	return api.Options{
		Location:     loc,
		DefaultLimit: e.cfg.Query.DefaultLimit,
		MaxSeries:    e.cfg.Query.MaxSeries,
		Timeout:      e.cfg.Server.Timeout,
	}, nil
}

func (e *env) Close() error {
	err := e.store.Close()
	if err != nil {
		e.log.Error("failed to close storage", zap.Error(err))
	}
	e.log.Sync()
	e.logCloser.Close()
	return err
}
