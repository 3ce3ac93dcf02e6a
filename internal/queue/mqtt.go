package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// jobsTopic is the per-workspace topic sync workers subscribe to.
const jobsTopic = "cadence/workspaces/%s/jobs"

// resultsTopic is the wildcard topic workers publish completion reports
// to, one segment per workspace.
const resultsTopic = "cadence/workspaces/+/results"

// MQTTClient is the subset of paho client operations the queue uses.
// Kept as an interface so tests can substitute a fake.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

// defaultMQTTClient wraps the real paho client.
type defaultMQTTClient struct {
	client mqtt.Client
}

func (d *defaultMQTTClient) Connect() mqtt.Token { return d.client.Connect() }

func (d *defaultMQTTClient) Disconnect(quiesce uint) { d.client.Disconnect(quiesce) }

func (d *defaultMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return d.client.Publish(topic, qos, retained, payload)
}

func (d *defaultMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return d.client.Subscribe(topic, qos, callback)
}

func (d *defaultMQTTClient) IsConnected() bool { return d.client.IsConnected() }

// MQTTQueue publishes jobs to an MQTT broker for out-of-process sync
// workers.
type MQTTQueue struct {
	client  MQTTClient
	logger  *slog.Logger
	timeout time.Duration
}

// NewMQTTQueue connects to the broker and returns a publishing queue.
func NewMQTTQueue(broker string, port int, username, password string, logger *slog.Logger) (*MQTTQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt_queue")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", broker, port))
	opts.SetClientID(fmt.Sprintf("cadence-coordinator-%d", time.Now().Unix()))
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	q := &MQTTQueue{
		client:  &defaultMQTTClient{client: mqtt.NewClient(opts)},
		logger:  logger,
		timeout: 10 * time.Second,
	}
	if token := q.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	return q, nil
}

// NewMQTTQueueWithClient builds a queue over a pre-built client (for tests).
func NewMQTTQueueWithClient(client MQTTClient, logger *slog.Logger) *MQTTQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTQueue{
		client:  client,
		logger:  logger.With("component", "mqtt_queue"),
		timeout: 10 * time.Second,
	}
}

// CreateJob publishes the job as JSON to the workspace's jobs topic.
func (q *MQTTQueue) CreateJob(ctx context.Context, job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	topic := fmt.Sprintf(jobsTopic, job.WorkspaceID)
	token := q.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(q.timeout) {
		return "", fmt.Errorf("publish job %s: timeout", job.ID)
	}
	if err := token.Error(); err != nil {
		return "", fmt.Errorf("publish job %s: %w", job.ID, err)
	}

	q.logger.Debug("job published", "job", job.ID, "topic", topic, "type", job.JobType)
	return job.ID, nil
}

// SubscribeResults registers a handler for worker completion reports.
// Malformed payloads are logged and dropped; the handler runs on paho's
// receive goroutine, so it must not block.
func (q *MQTTQueue) SubscribeResults(handler func(Result)) error {
	token := q.client.Subscribe(resultsTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var res Result
		if err := json.Unmarshal(msg.Payload(), &res); err != nil {
			q.logger.Warn("malformed sync result", "topic", msg.Topic(), "error", err)
			return
		}
		if res.SyncLogID == "" {
			q.logger.Warn("sync result missing sync_log_id", "topic", msg.Topic())
			return
		}
		handler(res)
	})
	if !token.WaitTimeout(q.timeout) {
		return fmt.Errorf("subscribe %s: timeout", resultsTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", resultsTopic, err)
	}

	q.logger.Info("subscribed to sync results", "topic", resultsTopic)
	return nil
}

// Close disconnects from the broker.
func (q *MQTTQueue) Close() {
	q.client.Disconnect(250)
}
