package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEnvFile(t *testing.T) {
	cfg := &ProbeConfig{}
	parseEnvFile(`# comment
ICDI_VID=0x1cbe
ICDI_PID=00fd
ICDI_SERIAL=SN123

ignored line without equals
`, cfg)

	require.Equal(t, "0x1cbe", cfg.VendorID)
	require.Equal(t, "00fd", cfg.ProductID)
	require.Equal(t, "SN123", cfg.Serial)
}

func TestParseEnvFileIgnoresMalformedLines(t *testing.T) {
	cfg := &ProbeConfig{}
	parseEnvFile("not a key value line\n", cfg)
	require.Empty(t, cfg.VendorID)
	require.Empty(t, cfg.Serial)
}
