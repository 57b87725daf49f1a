package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { <-t.done; return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeClient implements only what MQTTSink uses.
type fakeClient struct {
	mqtt.Client
	topic   string
	qos     byte
	payload []byte
	err     error
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.qos = qos
	c.payload = payload.([]byte)
	return newFakeToken(c.err)
}

func TestMQTTSinkPublishesJSON(t *testing.T) {
	client := &fakeClient{}
	sink := NewMQTTSinkWithClient(client, "prayer/notifications")

	err := sink.Send(context.Background(), Notification{
		ID:             "abc",
		Prayer:         "dhuhr",
		Title:          "Time for Dhuhr prayer",
		Body:           "It is now 12:30",
		ScheduledDelay: 90 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "prayer/notifications", client.topic)
	assert.Equal(t, byte(1), client.qos)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(client.payload, &got))
	assert.Equal(t, "dhuhr", got["prayer"])
	assert.Equal(t, "Time for Dhuhr prayer", got["title"])
	assert.Equal(t, float64(90000), got["scheduledDelayMs"])
}

func TestMQTTSinkReportsPublishError(t *testing.T) {
	sink := NewMQTTSinkWithClient(&fakeClient{err: errors.New("not connected")}, "t")
	err := sink.Send(context.Background(), Notification{ID: "x"})
	assert.ErrorContains(t, err, "not connected")
}

func TestMultiJoinsErrors(t *testing.T) {
	var got []string
	ok := SinkFunc(func(_ context.Context, n Notification) error {
		got = append(got, n.ID)
		return nil
	})
	bad := SinkFunc(func(context.Context, Notification) error { return errors.New("boom") })

	err := Multi{ok, nil, bad, LogSink{}}.Send(context.Background(), Notification{ID: "n1"})
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, []string{"n1"}, got)

	assert.NoError(t, Multi{ok}.Send(context.Background(), Notification{ID: "n2"}))
}
