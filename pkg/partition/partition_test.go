package partition

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/datastream/pkg/models"
)

func TestResolveZeroPads(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC)
	assert.Equal(t, "year=2024/month=03/day=05/hour=07", Resolve(models.DefaultPartitionPattern, ts))
}

func TestResolveUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	ts := time.Date(2024, 1, 1, 3, 0, 0, 0, loc)
	assert.Equal(t, "2023/12/31/18", Resolve("{YYYY}/{MM}/{DD}/{HH}", ts))
}

func TestObjectKey(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 8, 9, 123456000, time.UTC)

	tests := []struct {
		name   string
		prefix string
		part   models.Partitioning
		ext    string
		want   string
	}{
		{
			name:   "partitioned",
			prefix: "clicks/",
			part:   models.Partitioning{Enabled: true, Pattern: models.DefaultPartitionPattern},
			ext:    "parquet.gz",
			want:   "clicks/year=2024/month=03/day=05/hour=07/events_20240305070809123456.parquet.gz",
		},
		{
			name: "no prefix no partition",
			part: models.Partitioning{Enabled: false},
			ext:  "json",
			want: "events_20240305070809123456.json",
		},
		{
			name:   "enabled with empty pattern uses default",
			prefix: "/raw",
			part:   models.Partitioning{Enabled: true},
			ext:    "csv",
			want:   "raw/year=2024/month=03/day=05/hour=07/events_20240305070809123456.csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectKey(tt.prefix, tt.part, ts, tt.ext))
		})
	}
}

func TestResolveIsDeterministicAndPadded(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("resolved key carries zero-padded components", prop.ForAll(
		func(sec int64) bool {
			ts := time.Unix(sec, 0).UTC()
			got := Resolve(models.DefaultPartitionPattern, ts)
			want := fmt.Sprintf("year=%04d/month=%02d/day=%02d/hour=%02d", ts.Year(), ts.Month(), ts.Day(), ts.Hour())
			return got == want && got == Resolve(models.DefaultPartitionPattern, ts) && !strings.Contains(got, "{")
		},
		gen.Int64Range(0, 4102444800),
	))

	properties.TestingRun(t)
}
