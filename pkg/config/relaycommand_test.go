package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayCommand_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RelayCommand
		wantErr bool
	}{
		{name: "decimal integer", input: `5`, want: RelayCommand{5}},
		{name: "integer array", input: `[1,2,3]`, want: RelayCommand{1, 2, 3}},
		{name: "single hex byte", input: `"0x05"`, want: RelayCommand{0x05}},
		{name: "hex list", input: `"0x01,0x02"`, want: RelayCommand{0x01, 0x02}},
		{name: "binary literal", input: `"0b00000101"`, want: RelayCommand{0x05}},
		{name: "decimal string", input: `"42"`, want: RelayCommand{42}},
		{name: "out of byte range", input: `300`, wantErr: true},
		{name: "garbage string", input: `"not-a-command"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rc RelayCommand
			err := json.Unmarshal([]byte(tt.input), &rc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rc)
		})
	}
}

// P8 (spec §8): parsing then rendering every legal form yields an
// equivalent byte sequence.
func TestRelayCommand_RoundTrip(t *testing.T) {
	inputs := []string{`5`, `[1,2,3]`, `"0x05"`, `"0x01,0x02"`, `"0b00000101"`}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			var first RelayCommand
			require.NoError(t, json.Unmarshal([]byte(in), &first))

			rendered, err := json.Marshal(first)
			require.NoError(t, err)

			var second RelayCommand
			require.NoError(t, json.Unmarshal(rendered, &second))

			assert.Equal(t, []byte(first), []byte(second))
		})
	}
}
