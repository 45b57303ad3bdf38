package config

import (
	_ "embed"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/tpm-encrypt/keystore"
	"github.com/quantumauth-io/tpm-encrypt/log"
)

//go:embed default.yaml
var defaultYAML []byte

const (
	StoreBackendTPM    = "tpm"
	StoreBackendMemory = "memory"
)

// Settings is the full tpm-encrypt configuration.
type Settings struct {
	Store    StoreSettings   `mapstructure:"store"`
	Keystore keystore.Config `mapstructure:"keystore"`
	Entropy  EntropySettings `mapstructure:"entropy"`
	Log      log.Config      `mapstructure:"log"`
	Metrics  MetricsSettings `mapstructure:"metrics"`
}

type StoreSettings struct {
	Backend string `mapstructure:"backend" validate:"oneof=tpm memory"`
	// Device is the TPM character device; empty probes /dev/tpmrm0 then /dev/tpm0.
	Device string `mapstructure:"device"`
	// SRKHandle is the persistent handle of the storage root key (0x81000001 by default).
	SRKHandle  uint32 `mapstructure:"srk_handle" structs:"srk_handle" validate:"gte=2164260864,lte=2181038079"`
	MarkerPath string `mapstructure:"marker_path" structs:"marker_path" validate:"required"`
	KeyRoot    string `mapstructure:"key_root" structs:"key_root" validate:"required,startswith=/"`
}

type EntropySettings struct {
	// Device is read with blocking semantics; empty uses the Go runtime CSPRNG.
	Device string `mapstructure:"device"`
}

type MetricsSettings struct {
	// Textfile, when set, receives a Prometheus text exposition after each command.
	Textfile string `mapstructure:"textfile"`
}

// DefaultYAML returns a copy of the compiled-in defaults.
func DefaultYAML() []byte {
	return append([]byte(nil), defaultYAML...)
}

// Load reads config.yaml from paths over the compiled-in defaults, applies env overrides
// (STORE_BACKEND, KEYSTORE_DIR, LOG_LEVEL, ...) and validates the result.
func Load(paths []string) (*Settings, error) {
	s, err := ParseConfigWithEmbedded[Settings](paths, defaultYAML)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}
