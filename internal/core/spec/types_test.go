package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Port Mapping Tests
// =============================================================================

func TestParsePortMapping_HostAndContainer(t *testing.T) {
	p, err := ParsePortMapping("8080:80")
	require.NoError(t, err)
	assert.Equal(t, 8080, p.HostPort)
	assert.Equal(t, 80, p.ContainerPort)
	assert.Equal(t, "tcp", p.Protocol)
}

func TestParsePortMapping_ContainerOnly(t *testing.T) {
	p, err := ParsePortMapping("80")
	require.NoError(t, err)
	assert.Equal(t, 0, p.HostPort)
	assert.Equal(t, 80, p.ContainerPort)
}

func TestParsePortMapping_UDP(t *testing.T) {
	p, err := ParsePortMapping("53:53/udp")
	require.NoError(t, err)
	assert.Equal(t, 53, p.HostPort)
	assert.Equal(t, 53, p.ContainerPort)
	assert.Equal(t, "udp", p.Protocol)
}

func TestParsePortMapping_Invalid(t *testing.T) {
	for _, s := range []string{"", "abc", "80:abc", "0:80", "8080:0", "99999", "80:80:80", "53:53/sctp"} {
		_, err := ParsePortMapping(s)
		require.Error(t, err, "input %q", s)
		assert.ErrorIs(t, err, ErrInvalidPort, "input %q", s)
	}
}

func TestPortMapping_String(t *testing.T) {
	assert.Equal(t, "8080:80", PortMapping{HostPort: 8080, ContainerPort: 80, Protocol: "tcp"}.String())
	assert.Equal(t, "80", PortMapping{ContainerPort: 80, Protocol: "tcp"}.String())
	assert.Equal(t, "53:53/udp", PortMapping{HostPort: 53, ContainerPort: 53, Protocol: "udp"}.String())
}

// =============================================================================
// Volume Mount Tests
// =============================================================================

func TestParseVolumeMount_Named(t *testing.T) {
	v, err := ParseVolumeMount("pgdata:/var/lib/postgresql/data")
	require.NoError(t, err)
	assert.Equal(t, "pgdata", v.Source)
	assert.Equal(t, "/var/lib/postgresql/data", v.Target)
	assert.True(t, v.Named)
	assert.False(t, v.ReadOnly)
}

func TestParseVolumeMount_HostPath(t *testing.T) {
	for _, source := range []string{"/etc/conf", "./conf", "~/conf"} {
		v, err := ParseVolumeMount(source + ":/etc/nginx/conf.d")
		require.NoError(t, err)
		assert.False(t, v.Named, "source %q", source)
	}
}

func TestParseVolumeMount_ReadOnly(t *testing.T) {
	v, err := ParseVolumeMount("config:/etc/app:ro")
	require.NoError(t, err)
	assert.True(t, v.ReadOnly)

	v, err = ParseVolumeMount("config:/etc/app:rw")
	require.NoError(t, err)
	assert.False(t, v.ReadOnly)
}

func TestParseVolumeMount_Invalid(t *testing.T) {
	for _, s := range []string{"", "noseparator", "a:b:c:d", "a:/b:zz", ":/target", "source:"} {
		_, err := ParseVolumeMount(s)
		require.Error(t, err, "input %q", s)
		assert.ErrorIs(t, err, ErrInvalidVolume, "input %q", s)
	}
}

func TestVolumeMount_String(t *testing.T) {
	assert.Equal(t, "data:/var/lib/data", VolumeMount{Source: "data", Target: "/var/lib/data"}.String())
	assert.Equal(t, "conf:/etc/conf:ro", VolumeMount{Source: "conf", Target: "/etc/conf", ReadOnly: true}.String())
}

// =============================================================================
// Resource String Tests
// =============================================================================

func TestParseMemoryString(t *testing.T) {
	cases := map[string]int64{
		"512M": 512 * 1024 * 1024,
		"1G":   1024 * 1024 * 1024,
		"256K": 256 * 1024,
		"2g":   2 * 1024 * 1024 * 1024,
		"100":  100,
		"64B":  64,
	}

	for input, want := range cases {
		got, err := ParseMemoryString(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}
}

func TestParseMemoryString_Invalid(t *testing.T) {
	for _, s := range []string{"", "abc", "-512M", "0", "M"} {
		_, err := ParseMemoryString(s)
		require.Error(t, err, "input %q", s)
		assert.ErrorIs(t, err, ErrInvalidResource, "input %q", s)
	}
}

func TestFormatMemoryString(t *testing.T) {
	assert.Equal(t, "512M", FormatMemoryString(512*1024*1024))
	assert.Equal(t, "1G", FormatMemoryString(1024*1024*1024))
	assert.Equal(t, "1K", FormatMemoryString(1024))
	assert.Equal(t, "1000", FormatMemoryString(1000))
}

func TestParseCPUString(t *testing.T) {
	got, err := ParseCPUString("0.5")
	require.NoError(t, err)
	assert.Equal(t, 0.5, got)

	got, err = ParseCPUString("2")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestParseCPUString_Invalid(t *testing.T) {
	for _, s := range []string{"", "abc", "-1", "0"} {
		_, err := ParseCPUString(s)
		require.Error(t, err, "input %q", s)
		assert.ErrorIs(t, err, ErrInvalidResource, "input %q", s)
	}
}

func TestFormatCPUString(t *testing.T) {
	assert.Equal(t, "0.5", FormatCPUString(0.5))
	assert.Equal(t, "2", FormatCPUString(2))
}
