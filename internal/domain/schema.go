package domain

type ColumnType string

const (
	TypeTimestamp ColumnType = "timestamp"
	TypeText      ColumnType = "text"
	TypeInteger   ColumnType = "integer"
	TypeBoolean   ColumnType = "boolean"
	TypeNumeric   ColumnType = "numeric"
)

// Column maps a sink column to a (possibly dotted) source field.
type Column struct {
	Name   string
	Type   ColumnType
	Source string
}

// Row holds one value per schema column, in schema order.
type Row []any

// CallColumns drives both the sink table definition and row projection.
var CallColumns = []Column{
	{Name: "date", Type: TypeTimestamp, Source: "date"},
	{Name: "city", Type: TypeText, Source: "city"},
	{Name: "hostname", Type: TypeText, Source: "hostname"},
	{Name: "callid", Type: TypeInteger, Source: "callId"},
	{Name: "utmSource", Type: TypeText, Source: "utmSource"},
	{Name: "utmMedium", Type: TypeText, Source: "utmMedium"},
	{Name: "utmCampaign", Type: TypeText, Source: "utmCampaign"},
	{Name: "utmContent", Type: TypeText, Source: "utmContent"},
	{Name: "utmTerm", Type: TypeText, Source: "utmTerm"},
	{Name: "uniqueCall", Type: TypeBoolean, Source: "uniqueCall"},
	{Name: "uniqTargetCall", Type: TypeBoolean, Source: "uniqTargetCall"},
	{Name: "targetCall", Type: TypeBoolean, Source: "targetCall"},
	{Name: "source", Type: TypeText, Source: "source"},
	{Name: "medium", Type: TypeText, Source: "medium"},
	{Name: "keyword", Type: TypeText, Source: "keyword"},
	{Name: "sessionId", Type: TypeInteger, Source: "sessionId"},
	{Name: "sessionDate", Type: TypeTimestamp, Source: "sessionDate"},
	{Name: "ya_campaignid", Type: TypeInteger, Source: "yandexDirect.campaignId"},
	{Name: "ya_adgroupid", Type: TypeNumeric, Source: "yandexDirect.adGroupId"},
	{Name: "yaclientId", Type: TypeNumeric, Source: "yaClientId"},
	{Name: "ga_campaignid", Type: TypeNumeric, Source: "googleAdWords.campaignId"},
	{Name: "ga_adgroupid", Type: TypeNumeric, Source: "googleAdWords.adGroupId"},
}

// Batch is everything one load run hands to the sink.
type Batch struct {
	RunID   string
	Columns []Column
	Rows    []Row
}
