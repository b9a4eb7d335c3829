package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ConfigFile represents the JSON configuration file. Fields left out of the file keep their default value.
type ConfigFile struct {
	Processes          int
	TickMs             uint32
	RequestProbability float64
	MinDelayMs         uint32
	MaxDelayMs         uint32
	MinHoldMs          uint32
	MaxHoldMs          uint32
	DurationSec        uint32
	Seed               int64
	Debug              bool
	LogPath            string `json:"LogPath,omitempty"`
	TracePath          string `json:"TracePath,omitempty"`
	DBPath             string `json:"DBPath,omitempty"`
	HTTPAddr           string `json:"HTTPAddr,omitempty"`
}

// DefaultConfigFile returns the configuration of the reference run: 12 processes, one random trigger per animation frame, messages taking 1 to 2 seconds and the section held 1 to 3 seconds.
func DefaultConfigFile() ConfigFile {
	return ConfigFile{
		Processes:          12,
		TickMs:             16,
		RequestProbability: 0.0005,
		MinDelayMs:         1000,
		MaxDelayMs:         2000,
		MinHoldMs:          1000,
		MaxHoldMs:          3000,
	}
}

// Config represents the simulation configuration, parsed from the JSON configuration file
type Config struct {
	Processes          int
	Tick               time.Duration
	RequestProbability float64
	MinDelay           time.Duration
	MaxDelay           time.Duration
	MinHold            time.Duration
	MaxHold            time.Duration
	// Duration of the run. Zero runs until stopped.
	Duration  time.Duration
	Seed      int64
	Debug     bool
	LogPath   string
	TracePath string
	DBPath    string
	HTTPAddr  string
}

// NewConfig creates a new simulation configuration from the given arguments
func NewConfig(args []string) (*Config, error) {
	if len(args) < 1 {
		return nil, errors.New("not enough arguments. Usage: <config_file>")
	}

	file, err := readConfigFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", args[0], err)
	}
	return file.Config()
}

// ParseConfig decodes a JSON configuration over the defaults and validates it.
func ParseConfig(r io.Reader) (*Config, error) {
	file, err := decodeConfigFile(r)
	if err != nil {
		return nil, err
	}
	return file.Config()
}

// Config validates the file and converts it to a Config.
func (f ConfigFile) Config() (*Config, error) {
	if f.Processes < 1 {
		return nil, fmt.Errorf("at least one process is needed, got %d", f.Processes)
	}
	if f.TickMs == 0 {
		return nil, errors.New("tick must be positive")
	}
	if f.RequestProbability <= 0 || f.RequestProbability > 1 {
		return nil, fmt.Errorf("request probability must be in (0, 1], got %v", f.RequestProbability)
	}
	if f.MinDelayMs == 0 || f.MaxDelayMs < f.MinDelayMs {
		return nil, fmt.Errorf("invalid message delay range [%d, %d] ms", f.MinDelayMs, f.MaxDelayMs)
	}
	if f.MinHoldMs == 0 || f.MaxHoldMs < f.MinHoldMs {
		return nil, fmt.Errorf("invalid hold range [%d, %d] ms", f.MinHoldMs, f.MaxHoldMs)
	}

	seed := f.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Config{
		Processes:          f.Processes,
		Tick:               ms(f.TickMs),
		RequestProbability: f.RequestProbability,
		MinDelay:           ms(f.MinDelayMs),
		MaxDelay:           ms(f.MaxDelayMs),
		MinHold:            ms(f.MinHoldMs),
		MaxHold:            ms(f.MaxHoldMs),
		Duration:           time.Duration(f.DurationSec) * time.Second,
		Seed:               seed,
		Debug:              f.Debug,
		LogPath:            f.LogPath,
		TracePath:          f.TracePath,
		DBPath:             f.DBPath,
		HTTPAddr:           f.HTTPAddr,
	}, nil
}

func ms(v uint32) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Reads the configuration file and returns the parsed configuration
func readConfigFile(filename string) (*ConfigFile, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return decodeConfigFile(file)
}

func decodeConfigFile(r io.Reader) (*ConfigFile, error) {
	config := DefaultConfigFile()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
