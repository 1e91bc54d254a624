package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagetime/internal/tracker"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want tracker.Message
	}{
		{
			name: "tab visible",
			env:  `{"action":"tabVisible","tabId":3}`,
			want: tracker.TabVisible{},
		},
		{
			name: "tab hidden with url",
			env:  `{"action":"tabHidden","tabId":3,"data":{"url":"https://a.com"}}`,
			want: tracker.TabHidden{URL: "https://a.com"},
		},
		{
			name: "add page duration",
			env:  `{"action":"addPageDuration","tabId":3,"data":{"url":"https://a.com","duration":30000}}`,
			want: tracker.AddPageDuration{URL: "https://a.com", Duration: 30 * time.Second},
		},
		{
			name: "missing duration counts as zero",
			env:  `{"action":"addPageDuration","tabId":3,"data":null}`,
			want: tracker.AddPageDuration{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			require.NoError(t, json.Unmarshal([]byte(tt.env), &env))
			assert.Equal(t, tracker.TabID(3), env.TabID)

			msg, err := Decode(env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestDecode_UnknownAction(t *testing.T) {
	_, err := Decode(Envelope{Action: "log", TabID: 1})
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = Decode(Envelope{TabID: 1})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDecode_MalformedData(t *testing.T) {
	_, err := Decode(Envelope{
		Action: tracker.ActionAddPageDuration,
		Data:   json.RawMessage(`{"duration":"thirty"}`),
	})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDecode_DurationOutOfRange(t *testing.T) {
	_, err := Decode(Envelope{
		Action: tracker.ActionAddPageDuration,
		Data:   json.RawMessage(`{"duration":9223372036854775}`),
	})
	require.NoError(t, err, "largest representable duration is accepted")

	_, err = Decode(Envelope{
		Action: tracker.ActionAddPageDuration,
		Data:   json.RawMessage(`{"duration":9223372036854776}`),
	})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
