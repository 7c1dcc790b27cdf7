// Package config loads the ICDI device selector from the environment,
// following the same .env-then-os.Getenv override pattern used elsewhere
// in this codebase's tooling.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/gousb"

	"icdi/internal/usbchannel"
)

// ProbeConfig holds the USB selector fields used to pick an ICDI out of
// several attached devices.
type ProbeConfig struct {
	VendorID  string
	ProductID string
	Serial    string
}

var (
	probeConfig  *ProbeConfig
	configLoaded bool
)

// LoadProbeConfig reads ICDI_VID, ICDI_PID and ICDI_SERIAL, first from a
// .env file found by walking up from the working directory, then from the
// real environment (which takes precedence). The result is cached after
// the first call.
func LoadProbeConfig() (*ProbeConfig, error) {
	if probeConfig != nil && configLoaded {
		return probeConfig, nil
	}

	cfg := &ProbeConfig{}

	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")

	data, err := os.ReadFile(envPath)
	if err == nil {
		parseEnvFile(string(data), cfg)
	}

	if vid := os.Getenv("ICDI_VID"); vid != "" {
		cfg.VendorID = vid
	}
	if pid := os.Getenv("ICDI_PID"); pid != "" {
		cfg.ProductID = pid
	}
	if serial := os.Getenv("ICDI_SERIAL"); serial != "" {
		cfg.Serial = serial
	}

	probeConfig = cfg
	configLoaded = true
	return cfg, nil
}

func parseEnvFile(content string, cfg *ProbeConfig) {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "ICDI_VID":
			cfg.VendorID = value
		case "ICDI_PID":
			cfg.ProductID = value
		case "ICDI_SERIAL":
			cfg.Serial = value
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

// Selector builds a usbchannel.Selector from the loaded config, falling
// back to the ICDI's compiled-in default VID/PID when unset.
func Selector() (usbchannel.Selector, error) {
	cfg, err := LoadProbeConfig()
	if err != nil {
		return usbchannel.Selector{}, err
	}

	sel := usbchannel.DefaultSelector()
	sel.Serial = cfg.Serial

	if cfg.VendorID != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(cfg.VendorID, "0x"), 16, 16)
		if err == nil {
			sel.VendorID = gousb.ID(v)
		}
	}
	if cfg.ProductID != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(cfg.ProductID, "0x"), 16, 16)
		if err == nil {
			sel.ProductID = gousb.ID(v)
		}
	}
	return sel, nil
}
