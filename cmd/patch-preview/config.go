package main

import (
	"errors"

	"github.com/theimaginaryfoundation/redline-o-bot/redline/settings"
)

type Config struct {
	ConfigPath   string
	DBPath       string
	DocumentsDir string

	JobID string
	// DocumentRef lists a document's versions and jobs instead of a patch set.
	DocumentRef string
	Limit       int
	// From and To diff two literal texts without touching storage.
	From string
	To   string

	Format string
	Color  bool
	Stats  bool
	Pretty bool
	Out    string
}

func (c Config) Validate() error {
	adhoc := c.From != "" || c.To != ""
	modes := 0
	for _, on := range []bool{c.JobID != "", adhoc, c.DocumentRef != ""} {
		if on {
			modes++
		}
	}
	if modes == 0 {
		return errors.New("missing -job (or -from/-to, or -doc)")
	}
	if modes > 1 {
		return errors.New("use only one of -job, -from/-to or -doc")
	}
	if c.Limit < 0 {
		return errors.New("limit must be >= 0")
	}
	switch c.Format {
	case "text", "inline", "json":
	default:
		return errors.New("format must be text|inline|json")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Format: "text",
		Stats:  true,
		Limit:  20,
	}
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
