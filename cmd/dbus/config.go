package main

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// fileConfig holds defaults loaded from ~/.config/gopherbus-dbus/config.toml.
// Values here are applied before flag parsing, so command-line flags always
// win.
type fileConfig struct {
	Session bool   `toml:"session"`
	Names   string `toml:"names"`
}

func loadFileConfig() (fileConfig, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return fileConfig{}, nil
	}
	path := filepath.Join(dir, "gopherbus-dbus", "config.toml")

	var cfg fileConfig
	_, err = toml.DecodeFile(path, &cfg)
	if os.IsNotExist(err) {
		return fileConfig{}, nil
	}
	return cfg, err
}

func applyFileConfig() error {
	cfg, err := loadFileConfig()
	if err != nil {
		return err
	}
	globalArgs.UseSessionBus = cfg.Session
	globalArgs.Names = cfg.Names
	return nil
}
