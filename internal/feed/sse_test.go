package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrame(t *testing.T) {
	t.Run("event data retry", func(t *testing.T) {
		got := Frame("new_attendance", []byte(`{"firstname":"Ada"}`), 5)
		assert.Equal(t, "event:new_attendance\ndata:{\"firstname\":\"Ada\"}\nretry:5\n\n", string(got))
	})

	t.Run("multi-line data", func(t *testing.T) {
		got := Frame("", []byte("a\r\nb\n"), 0)
		assert.Equal(t, "data:a\ndata:b\n\n", string(got))
	})

	t.Run("empty data still carries a data line", func(t *testing.T) {
		assert.Equal(t, "event:ping\ndata:\n\n", string(Frame("ping", nil, 0)))
	})
}
