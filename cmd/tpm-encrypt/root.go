package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quantumauth-io/tpm-encrypt/config"
	"github.com/quantumauth-io/tpm-encrypt/log"
	"github.com/quantumauth-io/tpm-encrypt/metrics"
	"github.com/quantumauth-io/tpm-encrypt/tpmencrypt"
)

// service is the part of tpmencrypt.Service the commands use.
type service interface {
	EncryptFile(ctx context.Context, src, dst, ref string) error
	DecryptFile(ctx context.Context, src, dst, ref string) error
	DeleteKey(ctx context.Context, ref string) error
	WipeAll(ctx context.Context) error
	Close() error
}

type serviceFactory func(ctx context.Context, settings *config.Settings) (service, error)

func defaultServiceFactory(ctx context.Context, settings *config.Settings) (service, error) {
	return tpmencrypt.New(ctx, settings)
}

type app struct {
	configDirs []string
	logLevel   string
	newService serviceFactory

	settings *config.Settings
	svc      service
}

// newRootCmd returns the command tree and its app; call app.teardown after Execute.
func newRootCmd(factory serviceFactory) (*cobra.Command, *app) {
	a := &app{newService: factory}

	root := &cobra.Command{
		Use:   "tpm-encrypt",
		Short: "Encrypt files with AES-256 keys sealed in the TPM",
		Long: `tpm-encrypt generates a symmetric key per key reference, seals it in the local TPM
and uses it to encrypt and decrypt files. The same reference is needed to decrypt.

Configuration is read from config.yaml in the --config directories and from
environment variables (STORE_BACKEND, KEYSTORE_DIR, LOG_LEVEL, ...).`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringSliceVarP(&a.configDirs, "config", "c", []string{"."}, "directories searched for config.yaml")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newEncryptCmd(a),
		newDecryptCmd(a),
		newDeleteCmd(a),
		newWipeCmd(a),
		newMenuCmd(a),
	)
	return root, a
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	settings, err := config.Load(a.configDirs)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		settings.Log.Level = a.logLevel
	}
	if err := log.Init(settings.Log); err != nil {
		return err
	}
	a.settings = settings

	svc, err := a.newService(cmd.Context(), settings)
	if err != nil {
		log.Error("could not initialise", "error", err)
		return err
	}
	a.svc = svc
	return nil
}

// teardown runs whether or not the command succeeded.
func (a *app) teardown() {
	if a.svc != nil {
		if err := a.svc.Close(); err != nil {
			log.Warn("closing service", "error", err)
		}
		a.svc = nil
	}
	if a.settings != nil && a.settings.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(a.settings.Metrics.Textfile); err != nil {
			log.Warn("writing metrics textfile", "path", a.settings.Metrics.Textfile, "error", err)
		}
	}
	log.Sync()
}
