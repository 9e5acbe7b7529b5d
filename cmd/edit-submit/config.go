package main

import (
	"errors"
	"strings"

	"github.com/theimaginaryfoundation/redline-o-bot/redline/docstore"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/settings"
)

type Config struct {
	ConfigPath   string
	DBPath       string
	DocumentsDir string

	DocumentRef string
	Instruction string
	ImportPath  string

	Run bool
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DocumentRef) == "" {
		return errors.New("missing -doc")
	}
	if !docstore.ValidRef(c.DocumentRef) {
		return errors.New("-doc must be letters, digits, '.', '_' or '-'")
	}
	if strings.TrimSpace(c.Instruction) == "" {
		return errors.New("missing -instruction")
	}
	return nil
}

func defaultConfig() Config {
	return Config{}
}

func (c Config) loadSettings() (*settings.Config, error) {
	sc, err := settings.Load(c.ConfigPath)
	if err != nil {
		return nil, err
	}
	if c.DBPath != "" {
		sc.Storage.DBPath = c.DBPath
	}
	if c.DocumentsDir != "" {
		sc.Storage.DocumentsDir = c.DocumentsDir
	}
	return sc, nil
}
