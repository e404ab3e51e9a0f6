package core_test

import (
	"testing"

	"github.com/Cypherspark/optout-gateway/internal/core"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":                  "",
		"447700900000":      "447700900000",
		"+44 7700 900000":   "447700900000",
		"(555) 000-1111":    "5550001111",
		"tel:+1-555-0100":   "15550100",
		"no digits":         "",
		"٤٤٧٧":              "", // non-ASCII digits are dropped
		"\t+44\n7700900000": "447700900000",
	}
	for in, want := range cases {
		got := core.Normalize(in)
		require.Equal(t, want, got, "Normalize(%q)", in)
		require.Equal(t, got, core.Normalize(got), "not idempotent for %q", in)
	}
}

func TestNormalize_IsLossy(t *testing.T) {
	// national and international forms of the same line are different identities
	require.NotEqual(t, core.Normalize("07700 900000"), core.Normalize("+44 7700 900000"))
}

func TestClassify(t *testing.T) {
	configs := []core.OptOutConfig{
		{ID: "a", OptoutNumber: "+44 7418 317717", OptoutPhrase: "STOP", OptinPhrase: "START"},
		{ID: "b", OptoutNumber: "15550001111", OptoutPhrase: "stop, unsubscribe ,END", OptinPhrase: "join,END"},
	}

	cases := []struct {
		name string
		dest string
		text string
		want core.Classification
		cfg  string
	}{
		{"exact", "447418317717", "STOP", core.ClassOptOut, "a"},
		{"lowercase", "447418317717", "stop", core.ClassOptOut, "a"},
		{"trailing text", "447418317717", "Stop please", core.ClassOptOut, "a"},
		{"padded", "447418317717", "  stop  ", core.ClassOptOut, "a"},
		{"optin", "447418317717", "START", core.ClassOptIn, "a"},
		{"no match", "447418317717", "hello", core.ClassNone, "a"},
		{"prefix without space", "447418317717", "STOPPED", core.ClassNone, "a"},
		{"phrase later in text", "447418317717", "please stop", core.ClassNone, "a"},
		{"list member", "15550001111", "Unsubscribe me", core.ClassOptOut, "b"},
		{"optout wins tie", "15550001111", "end", core.ClassOptOut, "b"},
		{"second list optin", "15550001111", "JOIN", core.ClassOptIn, "b"},
		{"formatted destination", "+1 (555) 000-1111", "join", core.ClassOptIn, "b"},
		{"unknown destination", "449999", "STOP", core.ClassNone, ""},
		{"empty destination", "", "STOP", core.ClassNone, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, cfg := core.Classify(configs, tc.dest, tc.text)
			require.Equal(t, tc.want, got)
			if tc.cfg == "" {
				require.Nil(t, cfg)
				return
			}
			require.NotNil(t, cfg)
			require.Equal(t, tc.cfg, cfg.ID)
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	configs := []core.OptOutConfig{
		{ID: "first", OptoutNumber: "447418317717", OptoutPhrase: "STOP", OptinPhrase: "START"},
		{ID: "second", OptoutNumber: "+447418317717", OptoutPhrase: "HALT", OptinPhrase: "GO"},
	}
	got, cfg := core.Classify(configs, "447418317717", "HALT")
	require.Equal(t, core.ClassNone, got)
	require.Equal(t, "first", cfg.ID)
}

func TestSplitPhrases(t *testing.T) {
	require.Equal(t, []string{"STOP", "QUIT"}, core.SplitPhrases(" stop ,, quit,"))
	require.Nil(t, core.SplitPhrases(""))
}

func TestParseInbound(t *testing.T) {
	msg, ok := core.ParseInbound(map[string]string{"msisdn": "447700900000", "to": "447418317717", "text": "STOP"})
	require.True(t, ok)
	require.Equal(t, core.InboundMessage{From: "447700900000", To: "447418317717", Text: "STOP"}, msg)

	msg, ok = core.ParseInbound(map[string]string{"from": "1", "to": "2", "message": "START"})
	require.True(t, ok)
	require.Equal(t, "1", msg.From)
	require.Equal(t, "START", msg.Text)

	_, ok = core.ParseInbound(map[string]string{"to": "2", "text": "STOP"})
	require.False(t, ok)
	_, ok = core.ParseInbound(map[string]string{"from": "1", "to": "2"})
	require.False(t, ok)
}
