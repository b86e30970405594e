package ssdp

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castbridge/castd/internal/directory"
)

func TestExtractHeaderCaseInsensitive(t *testing.T) {
	data := []byte("HTTP/1.1 200 OK\r\nlocation: http://10.0.0.9:52235/rootDesc.xml\r\nST: urn:schemas-upnp-org:device:MediaRenderer:1\r\n\r\n")
	assert.Equal(t, "http://10.0.0.9:52235/rootDesc.xml", extractHeader(data, "LOCATION"))
}

func TestExtractHeaderMissing(t *testing.T) {
	data := []byte("HTTP/1.1 200 OK\r\nST: foo\r\n\r\n")
	assert.Equal(t, "", extractHeader(data, "LOCATION"))
}

func TestDescribeParsesFriendlyNameAndUDN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><root><device><friendlyName>Attic TV</friendlyName><UDN>uuid:abc-123</UDN><serviceList><service><serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType><controlURL>/AVTransport/control</controlURL></service></serviceList></device></root>`))
	}))
	defer srv.Close()

	var got []directory.Device
	c := New(log.Default, func(d directory.Device) { got = append(got, d) })

	c.handleResponse([]byte(fmt.Sprintf("HTTP/1.1 200 OK\r\nLOCATION: %s/rootDesc.xml\r\n\r\n", srv.URL)))

	require.Len(t, got, 1)
	assert.Equal(t, "Attic TV", got[0].Name)
	assert.Equal(t, directory.DLNA, got[0].Type)
	assert.Contains(t, got[0].ControlURLs["AVTransport"], "/AVTransport/control")
}

func TestDescribeDeduplicatesByLocation(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`<?xml version="1.0"?><root><device><friendlyName>Attic TV</friendlyName><UDN>uuid:abc-123</UDN></device></root>`))
	}))
	defer srv.Close()

	c := New(log.Default, func(directory.Device) {})
	loc := fmt.Sprintf("HTTP/1.1 200 OK\r\nLOCATION: %s/rootDesc.xml\r\n\r\n", srv.URL)
	c.handleResponse([]byte(loc))
	c.handleResponse([]byte(loc))
	c.handleResponse([]byte(loc))

	assert.Equal(t, 1, hits)
}
