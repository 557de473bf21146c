package delivery_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/notifyd/notifyd/delivery"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/transport"
)

func TestSMSSenderAddressDefaulting(t *testing.T) {
	var gotTo, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotTo = r.PostForm.Get("To")
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sender := &delivery.SMSSender{Client: transport.NewSMS(transport.SMSConfig{
		URL: srv.URL, AccountSID: "sid", AuthToken: "tok", From: "+15550100",
	})}

	out := sender.Send(context.Background(), &event.WireEvent{
		EventType: "MENTION", UserID: "u1", UserPhone: "+15550123",
	})
	if !out.OK {
		t.Fatalf("Send: %+v", out)
	}
	if gotTo != "+15550123" {
		t.Errorf("To: got %q", gotTo)
	}
	if gotBody != "Event MENTION occurred." {
		t.Errorf("Body: got %q", gotBody)
	}

	// No user_phone on the payload: placeholder address.
	out = sender.Send(context.Background(), &event.WireEvent{EventType: "LIKE", UserID: "u1"})
	if !out.OK {
		t.Fatalf("Send: %+v", out)
	}
	if gotTo != "+1234567890" {
		t.Errorf("placeholder To: got %q", gotTo)
	}
}

func TestEmailSenderSubjectAndAddress(t *testing.T) {
	var gotAuth string
	var gotReq struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := &delivery.EmailSender{Client: transport.NewEmail(transport.EmailConfig{
		URL: srv.URL, Token: "tok", Sender: "notify@example.com",
	})}

	out := sender.Send(context.Background(), &event.WireEvent{
		EventType: "COMMENT", UserID: "u1", UserEmail: "u1@example.com",
	})
	if !out.OK {
		t.Fatalf("Send: %+v", out)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization: got %q", gotAuth)
	}
	if gotReq.To != "u1@example.com" {
		t.Errorf("to: got %q", gotReq.To)
	}
	if gotReq.Subject != "Notification: COMMENT" {
		t.Errorf("subject: got %q", gotReq.Subject)
	}
}
