package notification

import (
	"context"
	"strings"
	"testing"
)

func newTestManager() (*Manager, *MockEmailSender, *MockSMSSender) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	return NewManager(email, sms, NewTemplateEngine()), email, sms
}

func TestRender_ReplacesPlaceholders(t *testing.T) {
	engine := NewTemplateEngine()
	subject, body, err := engine.Render(TemplateBooked, map[string]string{
		"patient_name": "Ada",
		"doctor_name":  "Dr. Gray",
		"date":         "2026-09-01",
		"time":         "10:00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(subject, "Ada") {
		t.Errorf("subject not rendered: %s", subject)
	}
	if !strings.Contains(body, "Dr. Gray") || !strings.Contains(body, "10:00") {
		t.Errorf("body not rendered: %s", body)
	}
	if strings.Contains(body, "{{") {
		t.Errorf("unreplaced placeholder in body: %s", body)
	}
}

func TestRender_UnknownTemplate(t *testing.T) {
	engine := NewTemplateEngine()
	if _, _, err := engine.Render("no-such-template", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestSend_Email(t *testing.T) {
	mgr, email, _ := newTestManager()

	n := &Notification{Channel: ChannelEmail, Recipient: "a@example.com", Subject: "hi", Body: "hello"}
	if err := mgr.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != "sent" || n.SentAt == nil {
		t.Errorf("expected sent status, got %s", n.Status)
	}
	if len(email.Calls()) != 1 {
		t.Fatalf("expected 1 email call, got %d", len(email.Calls()))
	}
}

func TestSend_FailureRecorded(t *testing.T) {
	email := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	mgr := NewManager(email, &MockSMSSender{}, NewTemplateEngine())

	n := &Notification{Channel: ChannelEmail, Recipient: "a@example.com", Body: "x"}
	if err := mgr.Send(context.Background(), n); err == nil {
		t.Fatal("expected send error")
	}
	if n.Status != "failed" || n.Error != "smtp down" {
		t.Errorf("expected failed status with error, got %s / %s", n.Status, n.Error)
	}
}

func TestRetry_OnlyFailedNotifications(t *testing.T) {
	email := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	mgr := NewManager(email, &MockSMSSender{}, NewTemplateEngine())

	n := &Notification{Channel: ChannelEmail, Recipient: "a@example.com", Body: "x"}
	_ = mgr.Send(context.Background(), n)

	email.ShouldFail = false
	if err := mgr.Retry(context.Background(), n.ID); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}

	got, err := mgr.Get(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != "sent" || got.Error != "" {
		t.Errorf("expected sent after retry, got %s / %s", got.Status, got.Error)
	}

	if err := mgr.Retry(context.Background(), n.ID); err == nil {
		t.Error("expected error retrying a sent notification")
	}
}

func TestAppointmentEvent_RendersAndSends(t *testing.T) {
	mgr, email, _ := newTestManager()

	err := mgr.AppointmentEvent(context.Background(), TemplateCancelled, "acme", "a@example.com", map[string]string{
		"patient_name": "Ada",
		"doctor_name":  "Dr. Gray",
		"date":         "2026-09-01",
		"time":         "10:00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := email.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 email call, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Body, "cancelled") {
		t.Errorf("unexpected body: %s", calls[0].Body)
	}
}

func TestStats_GroupsByStatus(t *testing.T) {
	email := &MockEmailSender{}
	mgr := NewManager(email, &MockSMSSender{}, NewTemplateEngine())

	_ = mgr.Send(context.Background(), &Notification{Channel: ChannelEmail, Recipient: "a@example.com", Body: "x"})
	email.ShouldFail = true
	email.FailError = "down"
	_ = mgr.Send(context.Background(), &Notification{Channel: ChannelEmail, Recipient: "b@example.com", Body: "y"})

	stats := mgr.Stats(context.Background())
	if stats["sent"] != 1 || stats["failed"] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}
