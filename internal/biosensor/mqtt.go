package biosensor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"biopatrol/internal/scanrecorder"
	"biopatrol/pkg/config"
	"biopatrol/pkg/logger"
	"biopatrol/pkg/metrics"
)

// reading is the wire shape the sensor shelf publishes per bed.
type reading struct {
	BPM     int    `json:"bpm"`
	RPM     int    `json:"rpm"`
	Details string `json:"details"`
}

// valid applies the plausibility window for adult vital signs. Readings
// outside it are recorded as invalid attempts and the wait continues.
func (r reading) valid() bool {
	return r.BPM >= 20 && r.BPM <= 250 && r.RPM >= 4 && r.RPM <= 60
}

// MQTTClient is the paho-backed bio-sensor Client. It subscribes to the
// per-bed topic for the duration of one scan, waits initial_wait for the
// sensor to settle, then polls up to retry_count more windows of wait_time
// each. Every attempt, valid or not, is appended to scan history.
type MQTTClient struct {
	client   mqtt.Client
	recorder scanrecorder.Recorder
	cfg      config.BioSensorConfig
}

// NewMQTTClient connects to the broker. The connection is shared across
// scans; paho reconnects on its own.
func NewMQTTClient(cfg config.BioSensorConfig, recorder scanrecorder.Recorder) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("biosensor: connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("biosensor: connect to %s: %w", cfg.BrokerURL, err)
	}

	logger.Log.Info("bio-sensor mqtt connected", "broker", cfg.BrokerURL, "client_id", cfg.ClientID)
	return &MQTTClient{client: client, recorder: recorder, cfg: cfg}, nil
}

// GetValidScanData blocks up to initial_wait + retry_count*wait_time for a
// valid reading on targetBed's topic. Returns (nil, nil) on timeout; a
// non-nil error is reserved for subscription failures.
func (c *MQTTClient) GetValidScanData(ctx context.Context, targetBed, taskID, bedName string) (*ScanPayload, error) {
	topic := c.cfg.TopicPrefix + "/" + targetBed

	readings := make(chan reading, 16)
	token := c.client.Subscribe(topic, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		var r reading
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			logger.Log.Debug("bio-sensor payload unmarshal failed", "topic", msg.Topic(), "error", err)
			return
		}
		select {
		case readings <- r:
		default:
		}
	})
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("biosensor: subscribe %s: %w", topic, token.Error())
	}
	defer c.client.Unsubscribe(topic)

	// The first window is longer: the robot has just arrived and the
	// sensor needs contact time before readings stabilize.
	wait := c.cfg.InitialWait
	for attempt := 0; attempt <= c.cfg.RetryCount; attempt++ {
		r, ok := c.awaitReading(ctx, readings, wait)
		wait = c.cfg.WaitTime

		if !ok {
			c.recordAttempt(ctx, targetBed, bedName, reading{}, false, attempt, "no reading received")
			if ctx.Err() != nil {
				return nil, nil
			}
			continue
		}

		if r.valid() {
			c.recordAttempt(ctx, targetBed, bedName, r, true, attempt, r.Details)
			logger.Log.Info("valid scan obtained",
				"task_id", taskID, "bed", bedName, "bpm", r.BPM, "rpm", r.RPM, "attempt", attempt)
			return &ScanPayload{BPM: r.BPM, RPM: r.RPM, Details: r.Details}, nil
		}

		c.recordAttempt(ctx, targetBed, bedName, r, false, attempt, "reading out of range")
		logger.Log.Debug("invalid reading discarded",
			"task_id", taskID, "bed", bedName, "bpm", r.BPM, "rpm", r.RPM, "attempt", attempt)
	}

	logger.Log.Warn("bio scan timed out without valid reading",
		"task_id", taskID, "bed", bedName, "attempts", c.cfg.RetryCount+1)
	return nil, nil
}

func (c *MQTTClient) awaitReading(ctx context.Context, readings <-chan reading, window time.Duration) (reading, bool) {
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case r := <-readings:
		return r, true
	case <-timer.C:
		return reading{}, false
	case <-ctx.Done():
		return reading{}, false
	}
}

func (c *MQTTClient) recordAttempt(ctx context.Context, locationID, bedName string, r reading, isValid bool, attempt int, details string) {
	if m := metrics.Get(); m != nil {
		m.RecordScan(isValid)
	}
	status := "OK"
	if !isValid {
		status = "INVALID"
	}
	row := scanrecorder.Row{
		LocationID: locationID,
		BedName:    bedName,
		BPM:        r.BPM,
		RPM:        r.RPM,
		Status:     status,
		IsValid:    isValid,
		RetryCount: attempt,
		Details:    details,
		ScannedAt:  time.Now(),
	}
	if err := c.recorder.Record(ctx, row); err != nil {
		logger.Log.Warn("scan history write failed", "bed", bedName, "error", err)
	}
}

// Close disconnects from the broker.
func (c *MQTTClient) Close() {
	c.client.Disconnect(250)
}

var _ Client = (*MQTTClient)(nil)
