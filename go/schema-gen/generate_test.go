package schemagen

import (
	"encoding/json"
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Password string `json:"password" jsonschema:"title=Password,description=Secret password." jsonschema_extras:"secret=true,order=1"`
	Username string `json:"username" jsonschema:"title=Username,description=Test user." jsonschema_extras:"order=0"`
	Advanced struct {
		LongAdvanced string `json:"long_advanced,omitempty" jsonschema:"title=Example" jsonschema_extras:"multiline=true"`
	} `json:"advanced,omitempty" jsonschema_extras:"advanced=true"`
	Output outputConfig `json:"output"`
}

type outputConfig struct {
	Type string `json:"type"`

	fileOutput
	queueOutput
}

type fileOutput struct {
	Path string `json:"path"`
}

type queueOutput struct {
	URL string `json:"url" jsonschema_extras:"secret=true"`
}

func (outputConfig) JSONSchema() *jsonschema.Schema {
	return OneOfSchema("Output", "Where to send things.", "type", "file",
		OneOfSubSchema("File", fileOutput{}, "file"),
		OneOfSubSchema("Queue", queueOutput{}, "queue"),
	)
}

func TestGenerateSchema(t *testing.T) {
	var got = GenerateSchema("Test Schema", testConfig{})
	require.Equal(t, "Test Schema", got.Title)
	require.Nil(t, got.Definitions)
	require.Empty(t, got.Version)

	password, ok := got.Properties.Get("password")
	require.True(t, ok)
	require.Equal(t, true, password.Extras["secret"])
	require.Equal(t, 1, password.Extras["order"])

	username, _ := got.Properties.Get("username")
	require.Equal(t, 0, username.Extras["order"])

	advanced, _ := got.Properties.Get("advanced")
	require.Equal(t, true, advanced.Extras["advanced"])
	long, _ := advanced.Properties.Get("long_advanced")
	require.Equal(t, true, long.Extras["multiline"])

	var formatted, err = json.Marshal(got)
	require.NoError(t, err)
	require.NotContains(t, string(formatted), "$ref")
}

func TestOneOfSchema(t *testing.T) {
	var got = GenerateSchema("Test Schema", testConfig{})
	output, ok := got.Properties.Get("output")
	require.True(t, ok)
	require.Equal(t, "Output", output.Title)
	require.Len(t, output.OneOf, 2)
	require.Equal(t, map[string]string{"propertyName": "type"}, output.Extras["discriminator"])

	var queue = output.OneOf[1]
	require.Equal(t, "Queue", queue.Title)
	require.Equal(t, "type", queue.Properties.Oldest().Key)
	discriminator, _ := queue.Properties.Get("type")
	require.Equal(t, "queue", discriminator.Const)

	// Flags of nested alternatives are fixed up too.
	url, ok := queue.Properties.Get("url")
	require.True(t, ok)
	require.Equal(t, true, url.Extras["secret"])
}
