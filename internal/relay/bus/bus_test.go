package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func recipients(ds []Delivery[string, int]) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.To)
	}
	return out
}

func TestPublishModes(t *testing.T) {
	h := New[int, string, int]()
	h.Subscribe(1, "a")
	h.Subscribe(1, "b")
	h.Subscribe(1, "c")
	h.Subscribe(2, "z")

	tests := []struct {
		name string
		mode Mode
		from string
		to   string
		want []string
	}{
		{"channel reaches everyone", Channel, "a", "", []string{"a", "b", "c"}},
		{"broadcast skips publisher", Broadcast, "a", "", []string{"b", "c"}},
		{"direct reaches one", Direct, "a", "c", []string{"c"}},
		{"direct to stranger", Direct, "a", "z", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Publish(1, tt.mode, tt.from, tt.to, 99)
			assert.Equal(t, tt.want, recipients(got))
			for _, d := range got {
				assert.Equal(t, 99, d.Msg)
			}
		})
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	h := New[int, string, int]()
	h.Subscribe(1, "a")
	h.Subscribe(1, "a")
	assert.Equal(t, []string{"a"}, h.Subscribers(1))
}

func TestChannelRemovedWithLastSubscriber(t *testing.T) {
	h := New[int, string, int]()
	h.Subscribe(1, "a")
	h.Subscribe(1, "b")
	assert.Equal(t, 1, h.Channels())

	h.Unsubscribe(1, "a")
	assert.Equal(t, []string{"b"}, h.Subscribers(1))
	h.Unsubscribe(1, "b")
	assert.Equal(t, 0, h.Channels())

	// Unknown key and subscriber are tolerated.
	h.Unsubscribe(1, "b")
	assert.Empty(t, h.Publish(1, Channel, "", "", 0))
}

func TestIsolationBetweenKeys(t *testing.T) {
	h := New[int, string, int]()
	h.Subscribe(1, "a")
	h.Subscribe(2, "b")
	assert.Equal(t, []string{"a"}, recipients(h.Publish(1, Channel, "", "", 0)))
}
