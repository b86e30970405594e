package airplay

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"

	"github.com/castbridge/castd/internal/directory"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	hostport := strings.TrimPrefix(srv.URL, "http://")
	host, portStr, err := net.SplitHostPort(hostport)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	dev := directory.Device{ID: "airplay-1", Type: directory.AirPlay, Address: host, Port: port}
	return New(log.Default, dev)
}

func TestLoadMediaSendsFractionalStartPosition(t *testing.T) {
	var gotHeader string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/play" {
			gotHeader = r.Header.Get("X-Apple-Session-ID")
			gotBody = make([]byte, r.ContentLength)
			r.Body.Read(gotBody)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.LoadMedia(context.Background(), "http://host/media/movie.mp4", 45)
	require.NoError(t, err)
	assert.NotEmpty(t, gotHeader)

	var decoded map[string]interface{}
	_, err = plist.Unmarshal(gotBody, &decoded)
	require.NoError(t, err)
	assert.Equal(t, 1.0, decoded["Start-Position"])
	assert.Equal(t, "http://host/media/movie.mp4", decoded["Content-Location"])
	c.stopPolling()
}

func TestLoadMediaClampsNegativePosition(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = make([]byte, r.ContentLength)
		r.Body.Read(gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.LoadMedia(context.Background(), "http://host/media/movie.mp4", -5)
	require.NoError(t, err)

	var decoded map[string]interface{}
	_, err = plist.Unmarshal(gotBody, &decoded)
	require.NoError(t, err)
	assert.Equal(t, 0.0, decoded["Start-Position"])
	c.stopPolling()
}

func TestRequestSetsUserAgentAndSessionHeader(t *testing.T) {
	var gotUA, gotSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotSession = r.Header.Get("X-Apple-Session-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, userAgent, gotUA)
	assert.NotEmpty(t, gotSession)
}

func TestNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.Play(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "airplay")
}

func TestFetchStatusDecodesPlaybackInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := plist.Marshal(map[string]interface{}{
			"duration": 120.0,
			"position": 30.0,
			"rate":     1.0,
		}, plist.BinaryFormat)
		w.Write(body)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	status, err := c.fetchStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120.0, status.Duration)
	assert.Equal(t, 30.0, status.Position)
	assert.False(t, status.Paused)
}

func TestStartStopPollingIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.startPolling()
	c.startPolling()
	time.Sleep(5 * time.Millisecond)
	c.stopPolling()
	c.stopPolling()
}
