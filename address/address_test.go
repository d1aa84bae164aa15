package address

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInet_BarePort(t *testing.T) {
	a, err := Parse("8081")
	require.NoError(t, err)
	require.Equal(t, FamilyInet, a.Family)
	require.Equal(t, uint16(8081), a.Port)
	require.Equal(t, "*:8081", a.String())
}

func TestParseInet_BareAddressDefaultsPort8080(t *testing.T) {
	a, err := Parse("127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, uint16(8080), a.Port)
	require.Equal(t, "127.0.0.1:8080", a.String())
}

func TestParseInet_AddressAndPort(t *testing.T) {
	a, err := Parse("127.0.0.1:8081")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8081", a.String())
}

func TestParseInet_Wildcard(t *testing.T) {
	a, err := Parse("*:8081")
	require.NoError(t, err)
	require.Equal(t, "*:8081", a.String())
}

func TestParseInet_RoundTrip(t *testing.T) {
	cases := []string{"8081", "127.0.0.1", "127.0.0.1:8081", "*:8081", "0.0.0.0:80"}
	for _, in := range cases {
		a, err := Parse(in)
		require.NoErrorf(t, err, "parsing %q", in)

		b, err := Parse(a.String())
		require.NoErrorf(t, err, "reparsing %q", a.String())

		require.Truef(t, a.Equal(b), "round trip mismatch for %q -> %q", in, a.String())
	}
}

func TestParseInet_PortBoundaries(t *testing.T) {
	_, err := Parse("0")
	require.Error(t, err)

	_, err = Parse("65536")
	require.Error(t, err)

	_, err = Parse("127.0.0.1:0")
	require.Error(t, err)

	_, err = Parse("127.0.0.1:65536")
	require.Error(t, err)

	a, err := Parse("127.0.0.1:65535")
	require.NoError(t, err)
	require.Equal(t, uint16(65535), a.Port)

	a, err = Parse("1")
	require.NoError(t, err)
	require.Equal(t, uint16(1), a.Port)
}

func TestParseInet_InvalidAddress(t *testing.T) {
	_, err := Parse("not-an-ip:80")
	require.Error(t, err)
}

func TestParseInet6_Bare(t *testing.T) {
	a, err := Parse("[::1]")
	require.NoError(t, err)
	require.Equal(t, FamilyInet6, a.Family)
	require.Equal(t, uint16(0), a.Port)
}

func TestParseInet6_WithPort(t *testing.T) {
	a, err := Parse("[::1]:8080")
	require.NoError(t, err)
	require.Equal(t, uint16(8080), a.Port)
}

func TestParseInet6_PortBoundaries(t *testing.T) {
	_, err := Parse("[::1]:0")
	require.Error(t, err)

	_, err = Parse("[::1]:65536")
	require.Error(t, err)
}

func TestParseInet6_MissingCloseBracket(t *testing.T) {
	_, err := Parse("[::1")
	require.Error(t, err)
}

func TestParseInet6_BadAddress(t *testing.T) {
	_, err := Parse("[not-an-address]")
	require.Error(t, err)
}

func TestParseInet6_GarbageAfterBracket(t *testing.T) {
	_, err := Parse("[::1]x80")
	require.Error(t, err)
}

func TestParseUnix_Basic(t *testing.T) {
	a, err := Parse("unix:/var/run/unit.sock")
	require.NoError(t, err)
	require.Equal(t, FamilyUnix, a.Family)
	require.Equal(t, "/var/run/unit.sock", a.Path)
	require.False(t, a.Abstract)
}

func TestParseUnix_EmptyNameInvalid(t *testing.T) {
	_, err := Parse("unix:")
	require.Error(t, err)
}

func TestParseUnix_MaxLengthBoundary(t *testing.T) {
	okPath := strings.Repeat("a", sunPathMax)
	_, err := Parse("unix:" + okPath)
	require.NoError(t, err)

	tooLong := strings.Repeat("a", sunPathMax+1)
	_, err = Parse("unix:" + tooLong)
	require.Error(t, err)
}

func TestParseUnix_AbstractOnLinux(t *testing.T) {
	a, err := Parse("unix:@abstract")
	require.NoError(t, err)

	if runtime.GOOS == "linux" {
		require.True(t, a.Abstract)
		require.Equal(t, byte(0), a.Path[0])

		foo, err := Parse("unix:@foo")
		require.NoError(t, err)
		// "@foo" is 4 bytes; socklen = offsetof(sun_path) + 4.
		require.Equal(t, sunPathOffset+4, foo.Socklen)
	} else {
		require.False(t, a.Abstract)
	}
}
