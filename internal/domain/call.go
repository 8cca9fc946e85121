package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// API timestamp layout (DD/MM/YYYY HH:MM:SS) and query date layout.
const (
	APITimestampLayout = "02/01/2006 15:04:05"
	APIDateLayout      = "02/01/2006"
)

// Record is one JSON object returned by the Calltouch API. Numbers are kept
// as json.Number so large identifiers survive decoding.
type Record map[string]any

// Lookup resolves a dotted path such as "yandexDirect.campaignId".
func (r Record) Lookup(path string) (any, bool) {
	var current any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		obj, ok := asObject(current)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// String renders a top-level field; missing and null become "".
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// IsTrue reports whether key holds exactly the string "True". The API encodes
// call flags as strings; booleans and other spellings do not count.
func (r Record) IsTrue(key string) bool {
	s, ok := r[key].(string)
	return ok && s == "True"
}

func asObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case Record:
		return obj, true
	default:
		return nil, false
	}
}

// CampaignDay is the per-campaign summary of one day of calls. Source and
// Medium come from the first call of the group even when later calls differ.
type CampaignDay struct {
	Name            string   `json:"name"`
	Date            string   `json:"date"`
	Source          string   `json:"source"`
	Medium          string   `json:"medium"`
	OrdinaryCalls   int      `json:"ordinaryCalls"`
	CallIDs         []string `json:"callIDs"`
	UniqCalls       int      `json:"uniqCalls"`
	TargetCalls     int      `json:"targetCalls"`
	UniqTargetCalls int      `json:"uniqTargetCalls"`
}

// Record exposes the summary under the field names used by the column table.
func (c CampaignDay) Record() Record {
	callIDs := make([]any, len(c.CallIDs))
	for i, id := range c.CallIDs {
		callIDs[i] = id
	}
	return Record{
		"name":            c.Name,
		"utmCampaign":     c.Name,
		"date":            c.Date,
		"source":          c.Source,
		"medium":          c.Medium,
		"ordinaryCalls":   c.OrdinaryCalls,
		"callIDs":         callIDs,
		"uniqCalls":       c.UniqCalls,
		"targetCalls":     c.TargetCalls,
		"uniqTargetCalls": c.UniqTargetCalls,
	}
}

// OrdersPage is one page of the orders diary.
type OrdersPage struct {
	Records   []Record `json:"records"`
	Page      int      `json:"page"`
	TotalPage int      `json:"totalPage"`
}
