package timerid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndString(t *testing.T) {
	tests := []struct {
		name       string
		namespace  string
		roomID     string
		roundIndex int
		want       string
		wantErr    bool
	}{
		{name: "default namespace", roomID: "room-42", roundIndex: 0, want: "round:room-42:0"},
		{name: "explicit namespace", namespace: "lobby", roomID: "abc", roundIndex: 3, want: "lobby:abc:3"},
		{name: "trims room id", roomID: "  room-42  ", roundIndex: 1, want: "round:room-42:1"},
		{name: "empty room id", roomID: "   ", roundIndex: 1, wantErr: true},
		{name: "negative round", roomID: "room-42", roundIndex: -1, wantErr: true},
		{name: "colon in room id", roomID: "a:b", roundIndex: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := New(tt.namespace, tt.roomID, tt.roundIndex)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.String())
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	id, err := New("", "room-7", 12)
	require.NoError(t, err)

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "round:room", "round:room:abc", "round:room:1:extra", "round::1"} {
		_, err := Parse(s)
		assert.Error(t, err, "input %q", s)
	}
}
