package cli

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// DefaultBaseDir is the base directory name under the user's home.
	DefaultBaseDir = ".neuroweave"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
	// DefaultHistoryFile records chat input.
	DefaultHistoryFile = "history"
)

// Paths provides access to the neuroweave directory structure
type Paths struct {
	// HomeDir is the user's home directory
	HomeDir string
}

// NewPaths creates a Paths rooted at the current user's home directory.
func NewPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{HomeDir: home}, nil
}

// BaseDir returns the base directory (~/.neuroweave)
func (p *Paths) BaseDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// ConfigFile returns the config file path (~/.neuroweave/config.yaml)
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.BaseDir(), DefaultConfigFile)
}

// HistoryFile returns the chat history path (~/.neuroweave/history)
func (p *Paths) HistoryFile() string {
	return filepath.Join(p.BaseDir(), DefaultHistoryFile)
}

// EnsureBaseDir creates the base directory if it doesn't exist
func (p *Paths) EnsureBaseDir() error {
	return os.MkdirAll(p.BaseDir(), 0755)
}

// ResolveConfigFile picks the configuration file to load. An explicit path
// always wins; otherwise the default file is used when it exists. An empty
// result means built-in defaults.
func (p *Paths) ResolveConfigFile(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	path := p.ConfigFile()
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

// AppendHistory appends one line to the chat history file.
func (p *Paths) AppendHistory(line string) error {
	if err := p.EnsureBaseDir(); err != nil {
		return err
	}
	f, err := os.OpenFile(p.HistoryFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}
