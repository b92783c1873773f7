package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "PATH_COUNT", "OBFUSCATION_LEVEL", "ALPHA_PADDING", "MODE",
		"PROTO_SWITCH_PERIOD", "ADAPTIVE_PATHS", "ADAPTIVE_BEHAVIOR", "ADAPTIVE_PROTO",
		"SEED", "RUN_ID", "OUT_DIR", "SESSION_COUNT", "SESSION_DURATION")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ServerPort != DefaultServerPort {
		t.Errorf("ServerPort = %d, want %d", c.ServerPort, DefaultServerPort)
	}
	if c.Mode != ModeNormal {
		t.Errorf("Mode = %q, want %q", c.Mode, ModeNormal)
	}
	if len(c.MiddlePorts) != len(DefaultMiddlePorts) {
		t.Errorf("MiddlePorts = %v, want %v", c.MiddlePorts, DefaultMiddlePorts)
	}
}

func TestPathCountTruncatesMiddlePorts(t *testing.T) {
	clearEnv(t, "PATH_COUNT")
	os.Setenv("PATH_COUNT", "1")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.MiddlePorts) != 1 {
		t.Errorf("MiddlePorts = %v, want length 1", c.MiddlePorts)
	}
}

func TestInvalidObfuscationLevelRejected(t *testing.T) {
	clearEnv(t, "OBFUSCATION_LEVEL")
	os.Setenv("OBFUSCATION_LEVEL", "5")
	if _, err := Load(); err == nil {
		t.Error("expected error for OBFUSCATION_LEVEL=5")
	}
}

func TestModeOverride(t *testing.T) {
	clearEnv(t, "MODE")
	os.Setenv("MODE", "baseline_delay")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Mode != ModeBaselineDelay {
		t.Errorf("Mode = %q, want baseline_delay", c.Mode)
	}
}

func TestInvalidModeRejected(t *testing.T) {
	clearEnv(t, "MODE")
	os.Setenv("MODE", "not_a_mode")
	if _, err := Load(); err == nil {
		t.Error("expected error for unrecognized MODE")
	}
}

func TestAdaptiveFlagsParsed(t *testing.T) {
	clearEnv(t, "ADAPTIVE_PATHS", "ADAPTIVE_BEHAVIOR", "ADAPTIVE_PROTO")
	os.Setenv("ADAPTIVE_PATHS", "1")
	os.Setenv("ADAPTIVE_BEHAVIOR", "0")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.AdaptivePaths {
		t.Error("AdaptivePaths should be true")
	}
	if c.AdaptiveBehavior {
		t.Error("AdaptiveBehavior should be false")
	}
}
