// Package partition resolves object keys for object-store destinations.
package partition

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/datastream/pkg/models"
)

// Resolve substitutes {YYYY}, {MM}, {DD} and {HH} in pattern with the
// zero-padded UTC components of t.
func Resolve(pattern string, t time.Time) string {
	t = t.UTC()
	return strings.NewReplacer(
		"{YYYY}", fmt.Sprintf("%04d", t.Year()),
		"{MM}", fmt.Sprintf("%02d", int(t.Month())),
		"{DD}", fmt.Sprintf("%02d", t.Day()),
		"{HH}", fmt.Sprintf("%02d", t.Hour()),
	).Replace(pattern)
}

// FileName returns events_<YYYYMMDDHHMMSSffffff>.<ext> for t in UTC. ext may
// carry a compression suffix, e.g. "parquet.gz".
func FileName(t time.Time, ext string) string {
	t = t.UTC()
	return fmt.Sprintf("events_%s%06d.%s", t.Format("20060102150405"), t.Nanosecond()/1000, ext)
}

// ObjectKey joins prefix, the resolved partition path (when enabled) and the
// file name. Empty segments and leading or doubled slashes are dropped.
func ObjectKey(prefix string, p models.Partitioning, t time.Time, ext string) string {
	segments := make([]string, 0, 3)
	if s := strings.Trim(prefix, "/"); s != "" {
		segments = append(segments, s)
	}
	if p.Enabled {
		pattern := p.Pattern
		if pattern == "" {
			pattern = models.DefaultPartitionPattern
		}
		if s := strings.Trim(Resolve(pattern, t), "/"); s != "" {
			segments = append(segments, s)
		}
	}
	segments = append(segments, FileName(t, ext))
	return strings.Join(segments, "/")
}
