package transform

import (
	"fmt"
	"time"

	"calltouch-etl/internal/domain"
)

// AggregateCalls groups one day of raw calls by utmCampaign. Groups appear in
// order of first occurrence; call ids keep their original order.
func AggregateCalls(calls []domain.Record, date time.Time) []domain.CampaignDay {
	index := make(map[any]int)
	var groups [][]domain.Record

	for _, call := range calls {
		key := groupKey(call["utmCampaign"])
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], call)
	}

	stamp := date.Format(domain.APITimestampLayout)
	results := make([]domain.CampaignDay, 0, len(groups))

	for _, records := range groups {
		first := records[0]
		day := domain.CampaignDay{
			Name:          first.String("utmCampaign"),
			Date:          stamp,
			Source:        first.String("source"),
			Medium:        first.String("medium"),
			OrdinaryCalls: len(records),
			CallIDs:       make([]string, 0, len(records)),
		}

		for _, record := range records {
			day.CallIDs = append(day.CallIDs, record.String("callId"))
			if record.IsTrue("uniqueCall") {
				day.UniqCalls++
			}
			if record.IsTrue("targetCall") {
				day.TargetCalls++
			}
			if record.IsTrue("uniqTargetCall") {
				day.UniqTargetCalls++
			}
		}

		results = append(results, day)
	}

	return results
}

// groupKey keeps null and string campaigns distinct and makes unhashable JSON
// values usable as map keys.
func groupKey(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		return fmt.Sprintf("%T:%v", v, v)
	default:
		return v
	}
}
