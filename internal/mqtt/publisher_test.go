package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nugget/studywithme/internal/agent"
	"github.com/nugget/studywithme/internal/config"
)

func TestEncodeEvent(t *testing.T) {
	ev := agent.Event{
		RequestID: "0190f3c2-0000-7000-8000-000000000000",
		UserID:    "alice",
		Tool:      "get_syllabus",
		Outcome:   agent.OutcomeOK,
		Stage:     agent.StageDone,
		Duration:  1500 * time.Millisecond,
		Time:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := encodeEvent(ev)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]any{
		"request_id":  ev.RequestID,
		"user_id":     "alice",
		"tool":        "get_syllabus",
		"outcome":     "ok",
		"stage":       "done",
		"duration_ms": float64(1500),
		"time":        "2026-03-01T12:00:00Z",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	if _, ok := got["Duration"]; ok {
		t.Error("raw Duration should not be serialized")
	}
}

func TestTopics(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883", TopicPrefix: "study/dev"}, nil)
	if got := p.exchangesTopic(); got != "study/dev/exchanges" {
		t.Errorf("exchangesTopic = %q", got)
	}
	if got := p.availabilityTopic(); got != "study/dev/availability" {
		t.Errorf("availabilityTopic = %q", got)
	}

	def := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, nil)
	if got := def.statsTopic(); got != "studywithme/stats" {
		t.Errorf("default statsTopic = %q", got)
	}
}

func TestClientID(t *testing.T) {
	if got := New(config.MQTTConfig{ClientID: "fixed"}, nil).clientID(); got != "fixed" {
		t.Errorf("clientID = %q, want fixed", got)
	}
	if got := New(config.MQTTConfig{}, nil).clientID(); !strings.HasPrefix(got, "studywithme-") {
		t.Errorf("generated clientID = %q", got)
	}
}

func TestObserveExchange_NeverBlocks(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < QueueSize*3; i++ {
			p.ObserveExchange(context.Background(), agent.Event{Outcome: agent.OutcomeOK})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ObserveExchange blocked with no consumer")
	}
	if len(p.events) != QueueSize {
		t.Errorf("queued = %d, want %d", len(p.events), QueueSize)
	}
	if got := p.counts.Snapshot().OK; got != QueueSize*3 {
		t.Errorf("counted ok = %d, want %d (drops still count)", got, QueueSize*3)
	}
}

func TestStopBeforeStart(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, nil)
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start = %v, want nil", err)
	}
}

func TestDailyCounts(t *testing.T) {
	now := time.Date(2026, 5, 1, 23, 0, 0, 0, time.UTC)
	d := NewDailyCounts(time.UTC)
	d.now = func() time.Time { return now }
	d.resetDay = now.YearDay()

	d.Record(agent.Event{Outcome: agent.OutcomeOK, Tool: "get_syllabus"})
	d.Record(agent.Event{Outcome: agent.OutcomeError})
	d.Record(agent.Event{Outcome: agent.OutcomeCancelled})

	want := Counts{OK: 1, Errors: 1, Cancelled: 1, ToolUses: 1}
	if got := d.Snapshot(); got != want {
		t.Errorf("Snapshot = %+v, want %+v", got, want)
	}

	now = now.Add(2 * time.Hour)
	if got := d.Snapshot(); got != (Counts{}) {
		t.Errorf("after midnight Snapshot = %+v, want zero", got)
	}
}
