package steam

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const libraryFolders = `
"libraryfolders"
{
	// primary library
	"0"
	{
		"path"		"/home/user/.steam/steam"
		"label"		""
		"apps"
		{
			"892970"		"1234"
		}
	}
	"1"
	{
		"path"		"/mnt/games/steam"
		"label"		"Games"
	}
}
`

func TestParseVDF_LibraryFolders(t *testing.T) {
	root, err := ParseVDF(strings.NewReader(libraryFolders))
	require.NoError(t, err)

	assert.Equal(t, []string{"/home/user/.steam/steam", "/mnt/games/steam"}, libraryPaths(root))

	lf, ok := root.Block("libraryfolders")
	require.True(t, ok)
	first, ok := lf.Block("0")
	require.True(t, ok)
	apps, ok := first.Block("apps")
	require.True(t, ok)
	assert.Equal(t, "1234", apps.String("892970"))
}

func TestParseVDF_Escapes(t *testing.T) {
	root, err := ParseVDF(strings.NewReader(`"k" "C:\\Games\\Steam" bare value`))
	require.NoError(t, err)
	assert.Equal(t, `C:\Games\Steam`, root.String("k"))
	assert.Equal(t, "value", root.String("bare"))
}

func TestParseAppManifest(t *testing.T) {
	acf := `
"AppState"
{
	"appid"		"892970"
	"name"		"Valheim"
	"installdir"		"Valheim"
}
`
	m, err := ParseAppManifest(acf)
	require.NoError(t, err)
	assert.Equal(t, "892970", m.AppID)
	assert.Equal(t, "Valheim", m.Name)
	assert.Equal(t, "Valheim", m.InstallDir)
}

func TestParseVDF_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"key without value", `"libraryfolders"`, "unexpected end after key"},
		{"unclosed block", `"a" { "b" "c"`, "missing closing brace"},
		{"unclosed quote", `"a" "b`, "unclosed quote"},
		{"stray brace", `}`, "unexpected"},
	}
	for _, tt := range tests {
		_, err := ParseVDF(strings.NewReader(tt.in))
		require.Error(t, err, tt.name)
		assert.Contains(t, err.Error(), tt.msg, tt.name)
	}
}

func TestParseAppManifest_MissingState(t *testing.T) {
	_, err := ParseAppManifest(`"Other" { }`)
	assert.Error(t, err)
}
