package config

import (
	_ "embed"
	"errors"
	"io"
	"os"
	"path"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

//go:embed default/config.yaml
var defaultConfigData []byte

const (
	ConfigurationName = "config.yaml"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

type Configuration struct {
	configFs afero.Fs

	Prompt       string `json:"prompt"`
	Color        string `json:"color" validate:"oneof=auto always never"`
	HistoryLimit int    `json:"history_limit" validate:"gte=0"`
	Notify       bool   `json:"notify"`
	EventLog     string `json:"event_log"`

	Server Server `json:"server"`
}

type Server struct {
	Address        string `json:"address" validate:"required"`
	Port           int    `json:"port" validate:"gte=0,lte=65535"`
	HostKey        string `json:"host_key" validate:"required"`
	AuthorizedKeys string `json:"authorized_keys" validate:"required"`

	// MaxOutputBytesPerSecond throttles output to SSH clients, zero means
	// unlimited.
	MaxOutputBytesPerSecond int64  `json:"max_output_bytes_per_second" validate:"gte=0"`
	Recordings              string `json:"recordings"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})

	return validate.Struct(c)
}

func (c *Configuration) fs() afero.Fs {
	if c.configFs == nil {
		return afero.NewMemMapFs()
	}
	return c.configFs
}

// EventLogEnabled is true if job-control events should be recorded.
func (c *Configuration) EventLogEnabled() bool {
	return c.EventLog != ""
}

// OpenEventLog opens the event log in an append only state.
func (c *Configuration) OpenEventLog() (afero.File, error) {
	if !c.EventLogEnabled() {
		return nil, errors.New("event log is disabled")
	}
	return c.fs().OpenFile(c.EventLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// ReadEventLog opens the event log for reading.
func (c *Configuration) ReadEventLog() (afero.File, error) {
	if !c.EventLogEnabled() {
		return nil, errors.New("event log is disabled")
	}
	return c.fs().OpenFile(c.EventLog, os.O_RDONLY, 0600)
}

// HostKeyPem returns the bytes of the SSH server's private key.
func (c *Configuration) HostKeyPem() ([]byte, error) {
	return afero.ReadFile(c.fs(), c.Server.HostKey)
}

// AuthorizedKeys returns the contents of the authorized keys file. A missing
// file is the same as an empty one.
func (c *Configuration) AuthorizedKeys() ([]byte, error) {
	data, err := afero.ReadFile(c.fs(), c.Server.AuthorizedKeys)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// RecordingEnabled is true if SSH terminal sessions should be recorded.
func (c *Configuration) RecordingEnabled() bool {
	return c.Server.Recordings != ""
}

// CreateRecording creates a new session recording with the given name.
func (c *Configuration) CreateRecording(name string) (afero.File, error) {
	if !c.RecordingEnabled() {
		return nil, errors.New("session recording is disabled")
	}
	fs := c.fs()
	if err := fs.MkdirAll(c.Server.Recordings, 0700); err != nil {
		return nil, err
	}
	return fs.OpenFile(path.Join(c.Server.Recordings, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
}

// OpenRecording opens a session recording for playback.
func (c *Configuration) OpenRecording(name string) (afero.File, error) {
	return c.fs().Open(path.Join(c.Server.Recordings, name))
}

// ListRecordings returns the names of recorded sessions, oldest first.
func (c *Configuration) ListRecordings() ([]string, error) {
	if !c.RecordingEnabled() {
		return nil, nil
	}
	infos, err := afero.ReadDir(c.fs(), c.Server.Recordings)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	return names, nil
}

// ColorEnabled decides whether output should be colored given whether it
// goes to a terminal.
func (c *Configuration) ColorEnabled(isTerminal bool) bool {
	switch c.Color {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		return isTerminal
	}
}

// Default returns the built-in configuration backed by an in-memory
// filesystem.
func Default() *Configuration {
	out := defaultConfig()
	out.configFs = afero.NewMemMapFs()
	return out
}

// WriteDefault writes the built-in configuration file.
func WriteDefault(w io.Writer) error {
	_, err := w.Write(defaultConfigData)
	return err
}

func defaultConfig() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	return &out
}
