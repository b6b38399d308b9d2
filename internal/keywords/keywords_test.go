package keywords

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Opt   Out\n", "opt out"},
		{"UNSUBSCRIBE", "unsubscribe"},
		{"Berhenti\tBerlangganan", "berhenti berlangganan"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestDefaultDictionary(t *testing.T) {
	d := Default()

	tests := []struct {
		label       string
		unsubscribe bool
		category    bool
	}{
		{"Unsubscribe from all emails", true, false},
		{"Opt-Out", true, false},
		{"Berhenti menerima email", true, false},
		{"Newsletter", false, true},
		{"Promotions", false, true},
		{"Product Updates", false, true},
		{"Info Lowongan Pekerjaan", false, true},
		{"Newsletter (unsubscribe)", true, true},
		{"Terms of service", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.unsubscribe, d.IsUnsubscribe(tt.label))
			assert.Equal(t, tt.category, d.IsCategory(tt.label))
		})
	}
}

func TestMatchReturnsFirstInPriorityOrder(t *testing.T) {
	d := Default()
	k, ok := Match("Confirm and save", d.Submit)
	require.True(t, ok)
	assert.Equal(t, "confirm", k)

	_, ok = Match("   ", d.Submit)
	assert.False(t, ok)
}

func TestMentionsPreferences(t *testing.T) {
	d := Default()
	assert.True(t, d.MentionsPreferences("Acme", "Manage your Subscription"))
	assert.True(t, d.MentionsPreferences("Email Langganan"))
	assert.False(t, d.MentionsPreferences("Acme", "Welcome"))
}

func TestParseRejectsEmptySets(t *testing.T) {
	_, err := Parse([]byte("unsubscribe: []\nsubmit: [save]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("unsubscribe: [stop]\n"))
	assert.Error(t, err)
}

func TestParseDefaultsDirectLinkToUnsubscribe(t *testing.T) {
	d, err := Parse([]byte("unsubscribe: [Stop Emails]\nsubmit: [Go]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"stop emails"}, d.DirectLink)
	assert.Equal(t, []string{"go"}, d.Submit)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.yaml")
	require.NoError(t, os.WriteFile(path, []byte("unsubscribe: [afmelden, afmelden]\nsubmit: [opslaan]\n"), 0600))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"afmelden"}, d.Unsubscribe)
	assert.True(t, d.IsUnsubscribe("Afmelden voor alle e-mails"))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	d, err = Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, d.Category)
}
