package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestMemoryQueueAssignsIDs(t *testing.T) {
	q := NewMemoryQueue()

	id1, err := q.CreateJob(context.Background(), Job{WorkspaceID: "ws1", JobType: "connector_sync"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id2, err := q.CreateJob(context.Background(), Job{ID: "explicit", WorkspaceID: "ws1", JobType: "connector_sync"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if id1 == "" {
		t.Error("expected generated id")
	}
	if id2 != "explicit" {
		t.Errorf("id = %q, want explicit", id2)
	}

	jobs := q.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].ID != id1 || jobs[1].ID != "explicit" {
		t.Errorf("order = [%s %s]", jobs[0].ID, jobs[1].ID)
	}
}

// fakeToken satisfies mqtt.Token for publish assertions.
type fakeToken struct {
	err     error
	timeout bool
}

func (f *fakeToken) Wait() bool { return true }

func (f *fakeToken) WaitTimeout(time.Duration) bool { return !f.timeout }
func (f *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (f *fakeToken) Error() error { return f.err }

type fakeMQTTClient struct {
	published  []publishCall
	pubErr     error
	pubStall   bool
	subTopic   string
	subHandler mqtt.MessageHandler
	subErr     error
}

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

func (f *fakeMQTTClient) Connect() mqtt.Token { return &fakeToken{} }

func (f *fakeMQTTClient) Disconnect(uint) {}

func (f *fakeMQTTClient) IsConnected() bool { return true }
func (f *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.published = append(f.published, publishCall{topic: topic, qos: qos, payload: payload.([]byte)})
	return &fakeToken{err: f.pubErr, timeout: f.pubStall}
}

func (f *fakeMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.subTopic = topic
	f.subHandler = callback
	return &fakeToken{err: f.subErr}
}

// deliver simulates the broker pushing a message to the subscription.
func (f *fakeMQTTClient) deliver(topic string, payload []byte) {
	f.subHandler(nil, &fakeMessage{topic: topic, payload: payload})
}

// fakeMessage satisfies mqtt.Message for delivery assertions.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool { return false }

func (m *fakeMessage) Qos() byte { return 1 }

func (m *fakeMessage) Retained() bool { return false }

func (m *fakeMessage) Topic() string { return m.topic }

func (m *fakeMessage) MessageID() uint16 { return 0 }

func (m *fakeMessage) Payload() []byte { return m.payload }

func (m *fakeMessage) Ack() {}

func TestMQTTQueuePublishesToWorkspaceTopic(t *testing.T) {
	client := &fakeMQTTClient{}
	q := NewMQTTQueueWithClient(client, testLogger())

	id, err := q.CreateJob(context.Background(), Job{
		WorkspaceID: "ws1",
		JobType:     "connector_sync",
		Payload:     map[string]any{"connector_type": "hubspot"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if len(client.published) != 1 {
		t.Fatalf("published = %d, want 1", len(client.published))
	}
	call := client.published[0]
	if call.topic != "cadence/workspaces/ws1/jobs" {
		t.Errorf("topic = %q", call.topic)
	}
	if call.qos != 1 {
		t.Errorf("qos = %d, want 1", call.qos)
	}

	var job Job
	if err := json.Unmarshal(call.payload, &job); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if job.ID != id || job.JobType != "connector_sync" {
		t.Errorf("payload job = %+v", job)
	}
}

func TestMQTTQueuePublishError(t *testing.T) {
	client := &fakeMQTTClient{pubErr: errors.New("broker rejected")}
	q := NewMQTTQueueWithClient(client, testLogger())

	if _, err := q.CreateJob(context.Background(), Job{WorkspaceID: "ws1", JobType: "connector_sync"}); err == nil {
		t.Error("expected publish error")
	}
}

func TestMQTTQueueSubscribeResults(t *testing.T) {
	client := &fakeMQTTClient{}
	q := NewMQTTQueueWithClient(client, testLogger())

	var got []Result
	if err := q.SubscribeResults(func(res Result) { got = append(got, res) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if client.subTopic != "cadence/workspaces/+/results" {
		t.Errorf("topic = %q", client.subTopic)
	}

	payload, _ := json.Marshal(Result{
		SyncLogID:     "sl-1",
		WorkspaceID:   "ws1",
		ConnectorType: "hubspot",
		Mode:          "incremental",
		RecordCount:   42,
	})
	client.deliver("cadence/workspaces/ws1/results", payload)

	if len(got) != 1 {
		t.Fatalf("results = %d, want 1", len(got))
	}
	if got[0].SyncLogID != "sl-1" || got[0].RecordCount != 42 {
		t.Errorf("result = %+v", got[0])
	}
}

func TestMQTTQueueSubscribeResultsDropsBadPayloads(t *testing.T) {
	client := &fakeMQTTClient{}
	q := NewMQTTQueueWithClient(client, testLogger())

	var got []Result
	if err := q.SubscribeResults(func(res Result) { got = append(got, res) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	client.deliver("cadence/workspaces/ws1/results", []byte("{not json"))
	client.deliver("cadence/workspaces/ws1/results", []byte(`{"workspace_id":"ws1"}`)) // no sync_log_id

	if len(got) != 0 {
		t.Errorf("results = %d, want 0", len(got))
	}
}

func TestMQTTQueueSubscribeError(t *testing.T) {
	client := &fakeMQTTClient{subErr: errors.New("not authorized")}
	q := NewMQTTQueueWithClient(client, testLogger())

	if err := q.SubscribeResults(func(Result) {}); err == nil {
		t.Error("expected subscribe error")
	}
}

func TestMQTTQueuePublishTimeout(t *testing.T) {
	client := &fakeMQTTClient{pubStall: true}
	q := NewMQTTQueueWithClient(client, testLogger())

	if _, err := q.CreateJob(context.Background(), Job{WorkspaceID: "ws1", JobType: "connector_sync"}); err == nil {
		t.Error("expected timeout error")
	}
}
