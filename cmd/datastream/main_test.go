package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datastream/pkg/config"
	"github.com/ajitpratap0/datastream/pkg/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTemplatesAreValidDestinations(t *testing.T) {
	for _, info := range models.SupportedDestinations() {
		t.Run(string(info.Type), func(t *testing.T) {
			dest, err := templateDestination(info.Type)
			require.NoError(t, err)
			res := models.ValidateDestination(dest)
			assert.True(t, res.Valid, "%v", res.Errors)
		})
	}

	_, err := templateDestination("ftp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3")
}

func TestInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.yaml")
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/clicks")

	_, err := execute(t, "init", path, "--type", "http", "--team", "team-1")
	require.NoError(t, err)

	sf, err := config.LoadStream(path)
	require.NoError(t, err)
	assert.Equal(t, "team-1", sf.TeamID)
	assert.Equal(t, "https://hooks.example.com/clicks", sf.Destination.HTTP.URL)

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	var res models.ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
}

func TestValidateReportsMissingSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.yaml")
	t.Setenv("S3_BUCKET", "")

	_, err := execute(t, "init", path, "--type", "s3")
	require.NoError(t, err)

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "S3 bucket is required")
}

func TestDestinationsCommand(t *testing.T) {
	out, err := execute(t, "destinations", "--json")
	require.NoError(t, err)

	var catalog []models.DestinationInfo
	require.NoError(t, json.Unmarshal([]byte(out), &catalog))
	assert.Len(t, catalog, len(models.SupportedDestinations()))

	out, err = execute(t, "destinations")
	require.NoError(t, err)
	assert.Contains(t, out, "azure_blob - Azure Blob Storage")
	assert.NotContains(t, out, "not linked")
}

func TestReadEvents(t *testing.T) {
	input := strings.Join([]string{
		`{"event_id":"e-1","team_id":"t","timestamp":"2024-05-01T00:00:00Z"}`,
		``,
		`{"team_id":"t"}`,
	}, "\n")

	events, err := readEvents(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e-1", events[0].EventID)
	assert.NotEmpty(t, events[1].EventID)
	assert.False(t, events[1].Timestamp.IsZero())

	_, err = readEvents(strings.NewReader("{\"team_id\":\"t\"}\nnot json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestBackfillRequest(t *testing.T) {
	req, err := backfillRequest("2024-05-01", "2024-05-02T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), req.StartDate)
	assert.Equal(t, time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC), req.EndDate)

	_, err = backfillRequest("yesterday", "2024-05-02")
	assert.Error(t, err)
}
