package httpreq

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequestLineAndHost(t *testing.T) {
	raw := "GET /a HTTP/1.0\r\nHost: example.test\r\nUser-Agent: test\r\n\r\n"
	req, err := Parse(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/a", req.Target)
	require.Equal(t, "HTTP/1.0", req.Version)
	require.Equal(t, "example.test", req.Host)
	require.Equal(t, raw, string(req.Raw))
}

func TestCacheableOnlyGetHTTP1x(t *testing.T) {
	cases := []struct {
		method, version string
		want             bool
	}{
		{"GET", "HTTP/1.0", true},
		{"GET", "HTTP/1.1", true},
		{"POST", "HTTP/1.1", false},
		{"GET", "HTTP/2.0", false},
	}
	for _, tc := range cases {
		req := &Request{Method: tc.method, Version: tc.version}
		require.Equal(t, tc.want, req.Cacheable(), "%s %s", tc.method, tc.version)
	}
}

func TestFingerprintIncludesHost(t *testing.T) {
	a := &Request{Method: "GET", Target: "/a", Version: "HTTP/1.0", Host: "one.test"}
	b := &Request{Method: "GET", Target: "/a", Version: "HTTP/1.0", Host: "two.test"}
	require.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := &Request{Method: "GET", Target: "/a", Version: "HTTP/1.0", Host: "one.test"}
	require.Equal(t, a.Fingerprint(), c.Fingerprint())
}

func TestHostPortAddsDefault(t *testing.T) {
	require.Equal(t, "example.test:80", (&Request{Host: "example.test"}).HostPort())
	require.Equal(t, "example.test:8080", (&Request{Host: "example.test:8080"}).HostPort())
}

func TestParseMalformedRequestLine(t *testing.T) {
	_, err := Parse(bufio.NewReader(strings.NewReader("garbage\r\n\r\n")))
	require.Error(t, err)
}
