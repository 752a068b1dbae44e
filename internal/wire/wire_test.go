package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_KnownVectors(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  []byte
	}{
		{
			name:  "movement 12,7",
			event: Movement{X: 12, Y: 7},
			want:  []byte{0x00, 0x00, 0x0C, 0x00, 0x07},
		},
		{
			name:  "left press at 300,150",
			event: Click{X: 300, Y: 150, Button: ButtonLeft, Pressed: true},
			want:  []byte{0x01, 0x01, 0x2C, 0x00, 0x96, 0x01, 0x01},
		},
		{
			name:  "scroll down with negative dy",
			event: Scroll{X: 1, Y: 2, DX: 0, DY: -1},
			want:  []byte{0x02, 0x00, 0x01, 0x00, 0x02, 0x00, 0x00, 0xFF, 0xFF},
		},
		{
			name:  "key A pressed",
			event: Key{Code: 30, State: KeyPressed},
			want:  []byte{0x03, 0x00, 0x1E, 0x01},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.event)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, tt.event.Tag().Size())

			decoded, err := Decode(got)
			require.NoError(t, err)
			assert.Equal(t, tt.event, decoded)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	events := []Event{
		Movement{X: 0, Y: 0},
		Movement{X: -32768, Y: 32767},
		Click{X: 1919, Y: 1079, Button: ButtonRight, Pressed: false},
		Click{X: 5, Y: 6, Button: ButtonMiddle, Pressed: true},
		Scroll{X: 100, Y: 200, DX: -3, DY: 120},
		Key{Code: 0x2FF, State: KeyRepeated},
		Key{Code: 1, State: KeyReleased},
	}

	for _, ev := range events {
		decoded, err := Decode(Encode(ev))
		require.NoError(t, err, "%#v", ev)
		assert.Equal(t, ev, decoded)
	}
}

func TestScrollAndClickUseDistinctTags(t *testing.T) {
	click := Encode(Click{X: 1, Y: 1, Button: ButtonLeft, Pressed: true})
	scroll := Encode(Scroll{X: 1, Y: 1, DX: 0, DY: 1})
	assert.NotEqual(t, click[0], scroll[0])
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{0x7F, 0, 0, 0, 0}},
		{"movement missing one byte", []byte{0x00, 0x00, 0x0C, 0x00}},
		{"tag only", []byte{0x01}},
		{"click missing pressed", []byte{0x01, 0x01, 0x2C, 0x00, 0x96, 0x01}},
		{"scroll with click-sized payload", []byte{0x02, 0x00, 0x01, 0x00, 0x02, 0x01, 0x01}},
		{"key truncated", []byte{0x03, 0x00, 0x1E}},
		{"click unknown button", []byte{0x01, 0, 0, 0, 0, 0x09, 0x01}},
		{"click bad pressed flag", []byte{0x01, 0, 0, 0, 0, 0x01, 0x02}},
		{"key bad state", []byte{0x03, 0x00, 0x1E, 0x05}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.data)
			assert.ErrorIs(t, err, ErrMalformedEvent)
			assert.Nil(t, ev)
		})
	}
}

func TestDecode_IgnoresTrailingBytes(t *testing.T) {
	data := append(Encode(Movement{X: 12, Y: 7}), 0xAA, 0xBB)
	ev, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Movement{X: 12, Y: 7}, ev)
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "scroll", TagScroll.String())
	assert.Equal(t, "tag(0x42)", Tag(0x42).String())
}
