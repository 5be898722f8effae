package main

import (
	"testing"

	"groupguard/internal/domain"
)

func TestApplyMedia_MovesTextToCaption(t *testing.T) {
	msg := domain.InboundMessage{Text: "see attached"}
	if err := applyMedia(&msg, []string{"photo", "video_note"}); err != nil {
		t.Fatalf("applyMedia: %v", err)
	}
	if !msg.Media.Photo || !msg.Media.VideoNote {
		t.Fatalf("media flags not set: %+v", msg.Media)
	}
	if msg.Text != "" || msg.Caption != "see attached" {
		t.Fatalf("expected text moved to caption, got text=%q caption=%q", msg.Text, msg.Caption)
	}
}

func TestApplyMedia_NoMediaKeepsText(t *testing.T) {
	msg := domain.InboundMessage{Text: "hello"}
	if err := applyMedia(&msg, nil); err != nil {
		t.Fatalf("applyMedia: %v", err)
	}
	if msg.Text != "hello" || msg.Caption != "" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestApplyMedia_UnknownType(t *testing.T) {
	msg := domain.InboundMessage{}
	if err := applyMedia(&msg, []string{"hologram"}); err == nil {
		t.Fatal("expected error for unknown media type")
	}
}
