package config

import (
	"io/ioutil"
	"log"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/ssh"
)

func TestInitialize(t *testing.T) {
	tempDir := t.TempDir()
	if _, err := Initialize(tempDir, log.New(ioutil.Discard, "", 0)); err != nil {
		t.Fatal(err)
	}

	// Check that the config is valid
	cfg, err := Load(tempDir)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("HostKeyPem", func(t *testing.T) {
		keyPem, err := cfg.HostKeyPem()
		assert.Nil(t, err)

		signer, err := ssh.ParsePrivateKey(keyPem)
		assert.Nil(t, err)
		assert.Equal(t, ssh.KeyAlgoED25519, signer.PublicKey().Type())
	})

	t.Run("OpenEventLog", func(t *testing.T) {
		fd, err := cfg.OpenEventLog()
		assert.Nil(t, err)
		fd.Close()
	})

	t.Run("Idempotent", func(t *testing.T) {
		before, err := cfg.HostKeyPem()
		assert.Nil(t, err)

		_, err = Initialize(tempDir, log.New(ioutil.Discard, "", 0))
		assert.Nil(t, err)

		after, err := cfg.HostKeyPem()
		assert.Nil(t, err)
		assert.Equal(t, before, after)
	})
}

func TestInitializeFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := InitializeFs(fs, log.New(ioutil.Discard, "", 0))
	assert.Nil(t, err)

	exists, err := afero.Exists(fs, ConfigurationName)
	assert.Nil(t, err)
	assert.True(t, exists)

	exists, err = afero.Exists(fs, cfg.Server.HostKey)
	assert.Nil(t, err)
	assert.True(t, exists)
}
