package toast

import (
	"testing"
	"time"
)

func TestShow_NewestWins(t *testing.T) {
	h := NewHub(time.Minute)
	defer h.Close()

	h.Show(1, "X", KindSuccess)
	h.Show(1, "Y", KindError)

	msg, ok := h.Current(1)
	if !ok {
		t.Fatalf("expected an active message")
	}
	if msg.Text != "Y" || msg.Kind != KindError {
		t.Fatalf("message = %+v, want Y/error", msg)
	}
}

func TestShowFor_AutoDismiss(t *testing.T) {
	h := NewHub(time.Minute)
	defer h.Close()

	h.ShowFor(1, "short-lived", KindInfo, 20*time.Millisecond)

	if _, ok := h.Current(1); !ok {
		t.Fatalf("message must be visible right after Show")
	}

	deadline := time.After(time.Second)
	for {
		if _, ok := h.Current(1); !ok {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("message was not auto-dismissed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestShow_RestartsTimer(t *testing.T) {
	h := NewHub(time.Minute)
	defer h.Close()

	h.ShowFor(1, "first", KindInfo, 30*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	h.ShowFor(1, "second", KindInfo, 200*time.Millisecond)

	// Таймер первого сообщения отменён: спустя его срок видно второе.
	time.Sleep(40 * time.Millisecond)

	msg, ok := h.Current(1)
	if !ok {
		t.Fatalf("second message must still be visible")
	}
	if msg.Text != "second" {
		t.Fatalf("message = %q, want second", msg.Text)
	}
}

func TestDismiss(t *testing.T) {
	h := NewHub(time.Minute)
	defer h.Close()

	h.Show(1, "gone", KindSuccess)
	h.Dismiss(1)

	if _, ok := h.Current(1); ok {
		t.Fatalf("message must be hidden after Dismiss")
	}

	// Dismiss без активного сообщения безопасен.
	h.Dismiss(1)
}

func TestPerUserIsolation(t *testing.T) {
	h := NewHub(time.Minute)
	defer h.Close()

	h.Show(1, "for one", KindInfo)
	h.Show(2, "for two", KindInfo)
	h.Dismiss(1)

	if _, ok := h.Current(1); ok {
		t.Fatalf("user 1 message must be dismissed")
	}
	msg, ok := h.Current(2)
	if !ok || msg.Text != "for two" {
		t.Fatalf("user 2 message = %+v, %v", msg, ok)
	}
}
