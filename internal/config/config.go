// Package config holds the per-run node configuration: default wire
// topology, adaptation toggles, and the environment-variable override
// layer described for the launcher and the individual node binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/getlantern/multiwisp/internal/pathlink"
	"github.com/getlantern/multiwisp/internal/profile"
	"github.com/getlantern/multiwisp/internal/shape"
	"github.com/getlantern/multiwisp/internal/strategy"
)

// Mode selects a behavior baseline, overriding individual shaping
// toggles wholesale.
type Mode string

const (
	ModeNormal          Mode = "normal"
	ModeBaselineDelay   Mode = "baseline_delay"
	ModeBaselinePadding Mode = "baseline_padding"
)

// Default loopback ports for the reference topology.
const (
	DefaultServerPort = 9301
	DefaultExitPort   = 9201
	DefaultEntryPort  = 9001
)

// DefaultMiddlePorts is the reference two-middle-hop topology.
var DefaultMiddlePorts = []int{9101, 9102}

// DefaultMonitorPorts mirrors the middle ports for transparent
// monitoring taps.
var DefaultMonitorPorts = []int{9103, 9104}

// PathConfig describes one outbound path's shaping behavior.
type PathConfig struct {
	SizeBins     []int
	PaddingAlpha float64
	JitterMs     int
	MaxInflight  int
	AlphaRTT     float64
	AlphaLoss    float64
}

// Config is the full set of knobs for one node process.
type Config struct {
	RunID            string
	OutDir           string
	Seed             int64
	Mode             Mode
	PathCount        int
	MiddlePorts      []int
	ExitPort         int
	ServerPort       int
	EntryPort        int
	ObfuscationLevel int
	RedundancyK      int
	BatchSize        int
	WindowSizeSec    int
	ProtoSwitchPeriod int
	AdaptivePaths    bool
	AdaptiveBehavior bool
	AdaptiveProto    bool
	SessionCount     int
	SessionDuration  time.Duration
	Path             PathConfig
}

// applyDefaults fills in zero-value fields with the reference
// topology and conservative adaptation defaults.
func (c *Config) applyDefaults() {
	if c.RunID == "" {
		c.RunID = "default"
	}
	if c.OutDir == "" {
		c.OutDir = "out"
	}
	if c.Mode == "" {
		c.Mode = ModeNormal
	}
	if c.PathCount == 0 {
		c.PathCount = len(DefaultMiddlePorts)
	}
	if len(c.MiddlePorts) == 0 {
		c.MiddlePorts = append([]int(nil), DefaultMiddlePorts...)
	}
	if c.ExitPort == 0 {
		c.ExitPort = DefaultExitPort
	}
	if c.ServerPort == 0 {
		c.ServerPort = DefaultServerPort
	}
	if c.EntryPort == 0 {
		c.EntryPort = DefaultEntryPort
	}
	if c.RedundancyK == 0 {
		c.RedundancyK = 1
	}
	if c.BatchSize == 0 {
		c.BatchSize = 4
	}
	if c.WindowSizeSec == 0 {
		c.WindowSizeSec = 5
	}
	if c.ProtoSwitchPeriod == 0 {
		c.ProtoSwitchPeriod = 4
	}
	if c.SessionCount == 0 {
		c.SessionCount = 1
	}
	if c.SessionDuration == 0 {
		c.SessionDuration = 30 * time.Second
	}
	if len(c.Path.SizeBins) == 0 {
		c.Path.SizeBins = []int{64, 256, 1024, 4096}
	}
	if c.Path.PaddingAlpha == 0 {
		c.Path.PaddingAlpha = 0.1
	}
	if c.Path.JitterMs == 0 {
		c.Path.JitterMs = 20
	}
	if c.Path.MaxInflight == 0 {
		c.Path.MaxInflight = 64
	}
	if c.Path.AlphaRTT == 0 {
		c.Path.AlphaRTT = 0.2
	}
	if c.Path.AlphaLoss == 0 {
		c.Path.AlphaLoss = 0.1
	}
}

// Load builds a Config from defaults, then applies recognized
// environment overrides.
func Load() (*Config, error) {
	c := &Config{}
	c.applyDefaults()
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if c.PathCount < len(c.MiddlePorts) {
		c.MiddlePorts = c.MiddlePorts[:c.PathCount]
	}
	return c, nil
}

// applyEnv overlays the recognized environment variables onto c.
func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("PATH_COUNT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PATH_COUNT: %w", err)
		}
		c.PathCount = n
	}
	if v, ok := os.LookupEnv("OBFUSCATION_LEVEL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OBFUSCATION_LEVEL: %w", err)
		}
		if n < 0 || n > 3 {
			return fmt.Errorf("OBFUSCATION_LEVEL: %d out of range [0,3]", n)
		}
		c.ObfuscationLevel = n
	}
	if v, ok := os.LookupEnv("ALPHA_PADDING"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ALPHA_PADDING: %w", err)
		}
		c.Path.PaddingAlpha = f
	}
	if v, ok := os.LookupEnv("MODE"); ok {
		m := Mode(v)
		switch m {
		case ModeNormal, ModeBaselineDelay, ModeBaselinePadding:
			c.Mode = m
		default:
			return fmt.Errorf("MODE: unrecognized value %q", v)
		}
	}
	if v, ok := os.LookupEnv("PROTO_SWITCH_PERIOD"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PROTO_SWITCH_PERIOD: %w", err)
		}
		c.ProtoSwitchPeriod = n
	}
	if v, ok := os.LookupEnv("ADAPTIVE_PATHS"); ok {
		c.AdaptivePaths = isTruthy(v)
	}
	if v, ok := os.LookupEnv("ADAPTIVE_BEHAVIOR"); ok {
		c.AdaptiveBehavior = isTruthy(v)
	}
	if v, ok := os.LookupEnv("ADAPTIVE_PROTO"); ok {
		c.AdaptiveProto = isTruthy(v)
	}
	if v, ok := os.LookupEnv("SEED"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SEED: %w", err)
		}
		c.Seed = n
	}
	if v, ok := os.LookupEnv("RUN_ID"); ok {
		c.RunID = v
	}
	if v, ok := os.LookupEnv("OUT_DIR"); ok {
		c.OutDir = v
	}
	if v, ok := os.LookupEnv("SESSION_COUNT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SESSION_COUNT: %w", err)
		}
		c.SessionCount = n
	}
	if v, ok := os.LookupEnv("SESSION_DURATION"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			secs, serr := strconv.Atoi(v)
			if serr != nil {
				return fmt.Errorf("SESSION_DURATION: %w", err)
			}
			d = time.Duration(secs) * time.Second
		}
		c.SessionDuration = d
	}
	return nil
}

// ShapeParams translates the resolved path shaping knobs and mode into
// a shape.Params value ready to hand to a node's shapers.
func (c *Config) ShapeParams() shape.Params {
	mode := shape.ModeNormal
	switch c.Mode {
	case ModeBaselineDelay:
		mode = shape.ModeBaselineDelay
	case ModeBaselinePadding:
		mode = shape.ModeBaselinePadding
	}
	return shape.Params{
		SizeBins:     c.Path.SizeBins,
		PaddingAlpha: c.Path.PaddingAlpha,
		JitterMs:     c.Path.JitterMs,
		Mode:         mode,
	}
}

// LinkConfig translates the resolved path knobs into a pathlink.Config.
func (c *Config) LinkConfig() pathlink.Config {
	return pathlink.Config{
		MaxInflight: c.Path.MaxInflight,
		AlphaRTT:    c.Path.AlphaRTT,
		AlphaLoss:   c.Path.AlphaLoss,
	}
}

// StrategyConfig translates the adaptation toggles into a
// strategy.Config. ObfuscationLevel governs how much of the profile
// catalog the rotation may draw from: 0 pins the single plainest
// profile (obfuscation effectively disabled), 3 opens the full
// catalog (full rotation), per the OBFUSCATION_LEVEL ∈ {0..3}
// resolution.
func (c *Config) StrategyConfig() strategy.Config {
	numProfiles := c.ObfuscationLevel
	if numProfiles < 1 {
		numProfiles = 1
	}
	if numProfiles > profile.NumProfiles {
		numProfiles = profile.NumProfiles
	}
	return strategy.Config{
		PaddingAlphaBase:  c.Path.PaddingAlpha,
		JitterMsBase:      c.Path.JitterMs,
		ProtoSwitchPeriod: c.ProtoSwitchPeriod,
		NumProfiles:       numProfiles,
		AdaptivePaths:     c.AdaptivePaths,
		AdaptiveBehavior:  c.AdaptiveBehavior,
		AdaptiveProto:     c.AdaptiveProto,
	}
}

func isTruthy(v string) bool {
	switch strings.TrimSpace(v) {
	case "1", "true", "TRUE", "True":
		return true
	default:
		return false
	}
}
