package pipeline

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/datastream/pkg/models"
)

func TestMatches(t *testing.T) {
	click := &models.Event{
		EventID:    "e-1",
		TeamID:     "team-1",
		LinkID:     "link-1",
		CampaignID: "spring",
		Country:    "US",
		DeviceType: "mobile",
		LinkTags:   []string{"promo", "email"},
	}
	bot := &models.Event{EventID: "e-2", TeamID: "team-1", IsBot: true}

	tests := []struct {
		name    string
		filters models.Filters
		event   *models.Event
		want    bool
	}{
		{"empty filters match", models.Filters{}, click, true},
		{"team allowed", models.Filters{TeamIDs: []string{"team-1"}}, click, true},
		{"team rejected", models.Filters{TeamIDs: []string{"team-2"}}, click, false},
		{"link rejected", models.Filters{LinkIDs: []string{"link-9"}}, click, false},
		{"campaign allowed", models.Filters{CampaignIDs: []string{"spring", "fall"}}, click, true},
		{"country rejected", models.Filters{Countries: []string{"FR"}}, click, false},
		{"device allowed", models.Filters{Devices: []string{"mobile"}}, click, true},
		{"any tag matches", models.Filters{LinkTags: []string{"social", "email"}}, click, true},
		{"no tag matches", models.Filters{LinkTags: []string{"social"}}, click, false},
		{"bots excluded", models.Filters{ExcludeBots: true}, bot, false},
		{"bots kept", models.Filters{}, bot, true},
		{"humans pass bot filter", models.Filters{ExcludeBots: true}, click, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.filters, tt.event))
		})
	}
}

func TestFilterEventsKeepsOrder(t *testing.T) {
	in := []*models.Event{
		{EventID: "1", Country: "US"},
		{EventID: "2", Country: "FR"},
		{EventID: "3", Country: "CA"},
		{EventID: "4", Country: "DE"},
	}

	out := FilterEvents(models.Filters{Countries: []string{"US", "CA"}}, in)

	assert.Len(t, out, 2)
	assert.Equal(t, "1", out[0].EventID)
	assert.Equal(t, "3", out[1].EventID)
}

func TestOverride(t *testing.T) {
	base := models.Filters{
		TeamIDs:     []string{"team-1"},
		Countries:   []string{"US"},
		ExcludeBots: true,
	}

	assert.Equal(t, base, Override(base, nil))

	got := Override(base, &models.FilterOverride{Countries: []string{"FR", "DE"}})
	assert.Equal(t, []string{"team-1"}, got.TeamIDs)
	assert.Equal(t, []string{"FR", "DE"}, got.Countries)
	assert.True(t, got.ExcludeBots)

	assert.Equal(t, []string{"US"}, base.Countries)
}

func TestOverrideExcludeBotsOnlyWhenSet(t *testing.T) {
	include := false
	exclude := true

	tests := []struct {
		name string
		base bool
		over *bool
		want bool
	}{
		{"unset keeps exclusion", true, nil, true},
		{"unset keeps inclusion", false, nil, false},
		{"explicit include", true, &include, false},
		{"explicit exclude", false, &exclude, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Override(models.Filters{ExcludeBots: tt.base}, &models.FilterOverride{
				LinkIDs:     []string{"link-1"},
				ExcludeBots: tt.over,
			})
			assert.Equal(t, tt.want, got.ExcludeBots)
			assert.Equal(t, []string{"link-1"}, got.LinkIDs)
		})
	}
}

func TestMatchesCountryProperty(t *testing.T) {
	countries := gen.OneConstOf("US", "FR", "CA", "DE", "JP")
	properties := gopter.NewProperties(nil)

	properties.Property("an event passes exactly when its country is allowed", prop.ForAll(
		func(country string, allowed []string) bool {
			e := &models.Event{EventID: "e", Country: country}
			want := len(allowed) == 0 || contains(allowed, country)
			return Matches(models.Filters{Countries: allowed}, e) == want
		},
		countries,
		gen.SliceOf(countries),
	))

	properties.Property("filtered output is a subset that all match", prop.ForAll(
		func(picked []string, allowed []string) bool {
			in := make([]*models.Event, len(picked))
			for i, c := range picked {
				in[i] = &models.Event{Country: c}
			}
			f := models.Filters{Countries: allowed}
			out := FilterEvents(f, in)
			if len(out) > len(in) {
				return false
			}
			for _, e := range out {
				if !Matches(f, e) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(countries),
		gen.SliceOf(countries),
	))

	properties.TestingRun(t)
}
