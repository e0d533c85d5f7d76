package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"price-tracker/internal/pricing"
)

var observed = time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)

func sampleEvent() pricing.AlertEvent {
	return pricing.AlertEvent{
		Asset:           "ethereum",
		TriggeringPrice: decimal.NewFromInt(1035),
		ReferencePrice:  decimal.NewFromInt(1000),
		PercentChange:   decimal.RequireFromString("3.5"),
		ThresholdPct:    decimal.NewFromInt(3),
		ObservedAt:      observed,
		ReferenceAt:     observed.Add(-time.Hour),
		Recipient:       "ops@example.com",
	}
}

func TestTelegramChannelSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	channel := NewTelegramChannel("token", "chat", srv.URL, time.Second, testLogger())
	if err := channel.Send(context.Background(), "ops@example.com", "subject", "body"); err != nil {
		t.Fatalf("Telegram Send 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if received["text"] != "subject\n\nbody" {
		t.Fatalf("text 不正确: %q", received["text"])
	}
}

func TestTelegramChannelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	channel := NewTelegramChannel("token", "chat", srv.URL, time.Second, testLogger())
	if err := channel.Send(context.Background(), "", "s", "b"); err == nil {
		t.Fatal("ok=false 应报错")
	}

	srv5xx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv5xx.Close()

	channel = NewTelegramChannel("token", "chat", srv5xx.URL, time.Second, testLogger())
	if err := channel.Send(context.Background(), "", "s", "b"); err == nil {
		t.Fatal("HTTP 502 应报错")
	}
}

func TestRenderAlert(t *testing.T) {
	subject, body := RenderAlert(sampleEvent())
	assert.Equal(t, "🚀 ETHEREUM Price Increased by 3.5%!", subject)
	assert.Contains(t, body, "The new price of ETHEREUM is 1035 USD")
	assert.Contains(t, body, "Reference: 1000 USD at 2025-03-01T12:00:00Z UTC")
	assert.Contains(t, body, "threshold 3%")
}

func TestRenderAcknowledgement(t *testing.T) {
	subject, body := RenderAcknowledgement("polygon", decimal.RequireFromString("0.75"))
	assert.Equal(t, "📢 POLYGON Price Alert Set", subject)
	assert.Equal(t, "You will be notified when POLYGON reaches $0.75", body)
}

func TestDispatcherSendsExactlyOnce(t *testing.T) {
	channel := &recordingChannel{}
	d := NewDispatcher(channel, testLogger())

	require.NoError(t, d.Dispatch(context.Background(), sampleEvent()))
	require.Len(t, channel.sent, 1)
	assert.Equal(t, "ops@example.com", channel.sent[0].recipient)
	assert.Contains(t, channel.sent[0].subject, "ETHEREUM")
	assert.Contains(t, channel.sent[0].body, "1035")
}

func TestDispatcherWrapsFailure(t *testing.T) {
	channel := &recordingChannel{err: errors.New("smtp: 421 try later")}
	d := NewDispatcher(channel, testLogger())

	err := d.Dispatch(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.ErrorIs(t, err, pricing.ErrNotificationFailure)
	assert.Len(t, channel.sent, 1, "no retry")

	err = d.Acknowledge(context.Background(), "ethereum", decimal.NewFromInt(2000), "me@example.com")
	assert.ErrorIs(t, err, pricing.ErrNotificationFailure)
}

func TestMultiChannelContinuesAfterFailure(t *testing.T) {
	failing := &recordingChannel{name: "email", err: errors.New("down")}
	ok := &recordingChannel{name: "telegram"}
	multi := NewMultiChannel([]Channel{failing, ok}, testLogger())

	err := multi.Send(context.Background(), "r", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email: down")
	assert.Len(t, ok.sent, 1)
	assert.Equal(t, "email+telegram", multi.Name())
}

func TestKafkaChannelWritesKeyedCommand(t *testing.T) {
	writer := &fakeWriter{}
	channel := newKafkaChannel(writer, testLogger())
	channel.now = func() time.Time { return observed }

	require.NoError(t, channel.Send(context.Background(), "ops@example.com", "subject", "body"))
	require.Len(t, writer.msgs, 1)
	assert.Equal(t, "ops@example.com", string(writer.msgs[0].Key))

	var cmd NotificationCommand
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &cmd))
	assert.Equal(t, "subject", cmd.Subject)
	assert.Equal(t, "body", cmd.Content)
	assert.True(t, cmd.SentAt.Equal(observed))

	writer.err = errors.New("leader not available")
	assert.Error(t, channel.Send(context.Background(), "ops@example.com", "s", "b"))
}

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage("tracker@example.com", "Blockchain Price Tracker", "ops@example.com", "ETHEREUM Price Alert Set", "body")
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHEREUM Price Alert Set"}, msg.GetGenHeader(mail.HeaderSubject))

	rcpts, err := msg.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com"}, rcpts)

	_, err = buildMessage("tracker@example.com", "", "not-an-address", "s", "b")
	assert.Error(t, err)
}

type sentMessage struct {
	recipient, subject, body string
}

type recordingChannel struct {
	mu   sync.Mutex
	name string
	err  error
	sent []sentMessage
}

func (r *recordingChannel) Name() string {
	if r.name == "" {
		return "recording"
	}
	return r.name
}

func (r *recordingChannel) Send(_ context.Context, recipient, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{recipient, subject, body})
	return r.err
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
