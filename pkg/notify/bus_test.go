package notify

import "testing"

func TestBusDeliversInOrderAndUnsubscribes(t *testing.T) {
	b := NewBus(nil)
	var got []string
	unsubA := b.Subscribe(func(n Notification) { got = append(got, "a:"+string(n.Kind)) })
	b.Subscribe(func(n Notification) { got = append(got, "b:"+string(n.Kind)) })

	b.Publish(Notification{Kind: Changed})
	unsubA()
	unsubA()
	b.Publish(Notification{Kind: Degraded})

	want := []string{"a:changed", "b:changed", "b:degraded"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 listener, got %d", b.Len())
	}
}

func TestBusSurvivesPanickingListener(t *testing.T) {
	b := NewBus(nil)
	reached := false
	b.Subscribe(func(Notification) { panic("boom") })
	b.Subscribe(func(Notification) { reached = true })
	b.Publish(Notification{Kind: Changed})
	if !reached {
		t.Fatalf("listener after a panicking one was not called")
	}
}
