package main

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/erilali/place/internal/transport"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestServerArgsValidated(t *testing.T) {
	for _, args := range [][]string{
		{"server"},
		{"server", "8080"},
		{"server", "http", "4"},
		{"server", "0", "4"},
		{"server", "70000", "4"},
		{"server", "8080", "0"},
		{"server", "8080", "big"},
		{"server", "8080", strconv.Itoa(transport.MaxGridDim + 1)},
		{"server", "8080", "2049"},
		{"server", "8080", "4", "extra"},
	} {
		out, err := execute(args...)
		require.Error(t, err, "%v", args)
		require.Contains(t, out, "Usage:", "%v", args)
		require.Contains(t, out, "server <port> <dim>")
	}
}

func TestServerDimLimitReported(t *testing.T) {
	_, err := execute("server", "8080", strconv.Itoa(transport.MaxGridDim+1))
	require.Error(t, err)
	require.Contains(t, err.Error(), strconv.Itoa(transport.MaxGridDim))
}

func TestClientArgsValidated(t *testing.T) {
	for _, args := range [][]string{
		{"client"},
		{"client", "localhost"},
		{"client", "localhost", "8080"},
		{"client", "localhost", "port", "A"},
	} {
		out, err := execute(args...)
		require.Error(t, err, "%v", args)
		require.Contains(t, out, "client <host> <port> <identity>", "%v", args)
	}
}

func TestBadTransportRejected(t *testing.T) {
	_, err := execute("server", "8080", "2", "--transport", "udp")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown transport")
}

func TestParsePort(t *testing.T) {
	p, err := parsePort("8080")
	require.NoError(t, err)
	require.Equal(t, uint16(8080), p)
	_, err = parsePort("-1")
	require.Error(t, err)
}
