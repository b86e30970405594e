package chromecast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"

	"github.com/castbridge/castd/internal/cast/chromecast/wire"
	"github.com/castbridge/castd/internal/directory"
)

func newTestClient() *Client {
	return New(log.Default, directory.Device{ID: "chromecast-1", Address: "10.0.0.5", Port: 8009})
}

func TestRequestIDsStrictlyIncreasing(t *testing.T) {
	c := newTestClient()
	seen := map[int]bool{}
	prev := 0
	for i := 0; i < 100; i++ {
		id := c.nextRequestID()
		assert.Greater(t, id, prev)
		assert.False(t, seen[id])
		seen[id] = true
		prev = id
	}
}

func TestDispatchCorrelatesReceiverStatusByRequestID(t *testing.T) {
	c := newTestClient()
	reqID := c.nextRequestID()
	waiter := c.registerWaiter(reqID)

	status := receiverStatus{Applications: []receiverApplication{{TransportID: "transport-1", SessionID: "session-1"}}}
	statusJSON, _ := json.Marshal(status)
	payload, _ := json.Marshal(inboundEnvelope{Type: "RECEIVER_STATUS", RequestID: &reqID, Status: statusJSON})

	c.dispatch(wire.Message{PayloadUTF8: string(payload)})

	select {
	case env := <-waiter:
		assert.Equal(t, "RECEIVER_STATUS", env.Type)
	case <-time.After(time.Second):
		t.Fatal("expected correlated message")
	}
}

func TestDispatchPongUpdatesLastPong(t *testing.T) {
	c := newTestClient()
	c.lastPong = time.Now().Add(-time.Hour)
	payload, _ := json.Marshal(inboundEnvelope{Type: "PONG"})
	c.dispatch(wire.Message{PayloadUTF8: string(payload)})
	assert.WithinDuration(t, time.Now(), c.lastPong, time.Second)
}

func TestDeclareLostClosesWaitersAndSetsErrorState(t *testing.T) {
	c := newTestClient()
	c.st = stateActive
	waiter := c.registerWaiter(c.nextRequestID())

	c.declareLost()

	_, ok := <-waiter
	assert.False(t, ok, "waiter channel should be closed")
	assert.Equal(t, "error", c.State())
}

func TestVolumeMapping(t *testing.T) {
	v := volumeValue{Level: float64(55) / 100}
	assert.InDelta(t, 0.55, v.Level, 0.0001)
}
