package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
)

// Initialize writes the default configuration and a fresh SSH host key to
// dir. Existing files are left alone.
func Initialize(dir string, logger *log.Logger) (*Configuration, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return InitializeFs(afero.NewBasePathFs(afero.NewOsFs(), dir), logger)
}

// InitializeFs is Initialize on an arbitrary filesystem.
func InitializeFs(fs afero.Fs, logger *log.Logger) (*Configuration, error) {
	logger.Printf("Writing %s...", ConfigurationName)
	if err := writeIfMissing(fs, ConfigurationName, defaultConfigData, logger); err != nil {
		return nil, err
	}

	cfg, err := LoadFs(fs)
	if err != nil {
		return nil, err
	}

	logger.Printf("Generating host key %s...", cfg.Server.HostKey)
	keyPem, err := generateHostKey()
	if err != nil {
		return nil, err
	}
	if err := writeIfMissing(fs, cfg.Server.HostKey, keyPem, logger); err != nil {
		return nil, err
	}

	logger.Println("Done. Add client public keys to", cfg.Server.AuthorizedKeys, "to use jobsh serve.")
	return cfg, nil
}

func writeIfMissing(fs afero.Fs, name string, data []byte, logger *log.Logger) error {
	_, err := fs.Stat(name)
	switch {
	case err == nil:
		logger.Printf("- %s already exists, skipping", name)
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	return afero.WriteFile(fs, name, data, 0600)
}

func generateHostKey() ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "jobsh host key")
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	return pem.EncodeToMemory(block), nil
}
