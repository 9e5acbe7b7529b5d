package main

import (
	"errors"
	"time"

	"github.com/theimaginaryfoundation/redline-o-bot/redline/settings"
)

type Config struct {
	ConfigPath   string
	DBPath       string
	DocumentsDir string

	Oracle string
	Model  string
	APIKey string

	JobID       string
	Poll        bool
	Concurrency int
	BatchLimit  int
	JobTimeout  time.Duration

	Stuck          bool
	ForceFailStuck bool
	Cleanup        bool
	Status         bool
}

func (c Config) Validate() error {
	if c.Concurrency < 0 || c.BatchLimit < 0 {
		return errors.New("concurrency/batch must be >= 0")
	}
	if c.JobTimeout < 0 {
		return errors.New("job-timeout must be >= 0")
	}
	modes := 0
	for _, on := range []bool{c.JobID != "", c.Poll, c.Stuck, c.Cleanup, c.Status} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return errors.New("use only one of -job, -poll, -stuck, -cleanup or -status")
	}
	if c.ForceFailStuck && !c.Stuck {
		return errors.New("-force-fail-stuck requires -stuck")
	}
	return nil
}

func defaultConfig() Config {
	return Config{}
}

// loadSettings applies non-zero flags over the config file.
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
	if c.Oracle != "" {
		sc.Oracle.Kind = c.Oracle
	}
	if c.Model != "" {
		sc.Oracle.Model = c.Model
	}
	if c.APIKey != "" {
		sc.Oracle.APIKey = c.APIKey
	}
	if c.Concurrency > 0 {
		sc.Worker.Concurrency = c.Concurrency
	}
	if c.BatchLimit > 0 {
		sc.Worker.BatchLimit = c.BatchLimit
	}
	if c.JobTimeout > 0 {
		sc.Worker.JobTimeoutSeconds = c.JobTimeout.Seconds()
	}
	return sc, nil
}
