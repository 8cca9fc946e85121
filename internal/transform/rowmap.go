package transform

import (
	"time"

	"calltouch-etl/internal/domain"
)

const sinkTimestampLayout = "2006-01-02 15:04:05"

// MapRow projects record through columns. Timestamp columns are converted from
// DD/MM/YYYY HH:MM:SS to YYYY-MM-DD HH:MM:SS; missing or null values map to nil.
func MapRow(record domain.Record, columns []domain.Column) (domain.Row, error) {
	row := make(domain.Row, len(columns))

	for i, column := range columns {
		value, ok := record.Lookup(column.Source)
		if !ok || value == nil {
			continue
		}

		if column.Type == domain.TypeTimestamp {
			converted, err := reformatTimestamp(column.Name, value)
			if err != nil {
				return nil, err
			}
			value = converted
		}

		row[i] = value
	}

	return row, nil
}

// MapRows maps every record, stopping at the first format error.
func MapRows(records []domain.Record, columns []domain.Column) ([]domain.Row, error) {
	rows := make([]domain.Row, 0, len(records))
	for _, record := range records {
		row, err := MapRow(record, columns)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func reformatTimestamp(column string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", &domain.FormatError{Column: column, Value: value}
	}

	t, err := time.Parse(domain.APITimestampLayout, s)
	if err != nil {
		return "", &domain.FormatError{Column: column, Value: value, Err: err}
	}

	return t.Format(sinkTimestampLayout), nil
}
