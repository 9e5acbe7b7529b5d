package main

import (
	"errors"

	"github.com/theimaginaryfoundation/redline-o-bot/redline/settings"
)

type Config struct {
	ConfigPath   string
	DBPath       string
	DocumentsDir string

	JobID  string
	Author string

	ExportPath string
	Overwrite  bool
}

func (c Config) Validate() error {
	if c.JobID == "" {
		return errors.New("missing -job")
	}
	if c.Overwrite && c.ExportPath == "" {
		return errors.New("-overwrite requires -export")
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
	if c.Author != "" {
		sc.Apply.Author = c.Author
	}
	return sc, nil
}
