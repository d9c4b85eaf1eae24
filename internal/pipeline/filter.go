package pipeline

import (
	"github.com/ajitpratap0/datastream/pkg/models"
)

// Matches reports whether e passes f. Every non-empty allow-list must
// contain the event's value; link_tags passes when the event carries at
// least one listed tag; exclude_bots drops bot traffic.
func Matches(f models.Filters, e *models.Event) bool {
	if len(f.TeamIDs) > 0 && !contains(f.TeamIDs, e.TeamID) {
		return false
	}
	if len(f.LinkIDs) > 0 && !contains(f.LinkIDs, e.LinkID) {
		return false
	}
	if len(f.CampaignIDs) > 0 && !contains(f.CampaignIDs, e.CampaignID) {
		return false
	}
	if len(f.Countries) > 0 && !contains(f.Countries, e.Country) {
		return false
	}
	if len(f.Devices) > 0 && !contains(f.Devices, e.DeviceType) {
		return false
	}
	if len(f.LinkTags) > 0 && !e.HasTag(f.LinkTags) {
		return false
	}
	if f.ExcludeBots && e.IsBot {
		return false
	}
	return true
}

// FilterEvents returns the events of in that pass f, preserving order.
func FilterEvents(f models.Filters, in []*models.Event) []*models.Event {
	out := make([]*models.Event, 0, len(in))
	for _, e := range in {
		if Matches(f, e) {
			out = append(out, e)
		}
	}
	return out
}

// Override returns base with every non-empty list of over replacing the
// matching list of base. ExcludeBots changes only when over sets it.
func Override(base models.Filters, over *models.FilterOverride) models.Filters {
	if over == nil {
		return base
	}
	out := base
	if len(over.TeamIDs) > 0 {
		out.TeamIDs = over.TeamIDs
	}
	if len(over.LinkIDs) > 0 {
		out.LinkIDs = over.LinkIDs
	}
	if len(over.LinkTags) > 0 {
		out.LinkTags = over.LinkTags
	}
	if len(over.CampaignIDs) > 0 {
		out.CampaignIDs = over.CampaignIDs
	}
	if len(over.Countries) > 0 {
		out.Countries = over.Countries
	}
	if len(over.Devices) > 0 {
		out.Devices = over.Devices
	}
	if over.ExcludeBots != nil {
		out.ExcludeBots = *over.ExcludeBots
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
