package events

import "testing"

func TestPublishInRegistrationOrder(t *testing.T) {
	d := New()
	var got []int
	d.Subscribe("offer", func(any) { got = append(got, 1) })
	d.Subscribe("offer", func(any) { got = append(got, 2) })
	d.Subscribe("offer", func(any) { got = append(got, 3) })

	d.Publish("offer", nil)

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("invocation order = %v, want [1 2 3]", got)
	}
}

func TestPublishDeliversPayload(t *testing.T) {
	d := New()
	var got any
	d.Subscribe("price", func(data any) { got = data })

	d.Publish("price", 42)

	if got != 42 {
		t.Errorf("payload = %v, want 42", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := New()
	calls := 0
	sub := d.Subscribe("offer", func(any) { calls++ })
	d.Publish("offer", nil)
	d.Unsubscribe("offer", sub)
	d.Publish("offer", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestUnsubscribeKeepsOthers(t *testing.T) {
	d := New()
	var got []string
	a := d.Subscribe("offer", func(any) { got = append(got, "a") })
	d.Subscribe("offer", func(any) { got = append(got, "b") })
	d.Unsubscribe("offer", a)

	d.Publish("offer", nil)

	if len(got) != 1 || got[0] != "b" {
		t.Errorf("got %v, want [b]", got)
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	d := New()
	ran := false
	d.Subscribe("offer", func(any) { panic("boom") })
	d.Subscribe("offer", func(any) { ran = true })

	d.Publish("offer", nil)

	if !ran {
		t.Error("second subscriber did not run after first panicked")
	}
}

func TestPublishUnknownTagIsNoop(t *testing.T) {
	d := New()
	d.Publish("nothing-registered", nil)
}

func TestTagsAreIndependent(t *testing.T) {
	d := New()
	offers, pings := 0, 0
	d.Subscribe("offer", func(any) { offers++ })
	d.Subscribe("ping", func(any) { pings++ })

	d.Publish("offer", nil)
	d.Publish("offer", nil)
	d.Publish("ping", nil)

	if offers != 2 || pings != 1 {
		t.Errorf("offers = %d, pings = %d; want 2, 1", offers, pings)
	}
}
