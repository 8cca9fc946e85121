package domain

import (
	"context"
	"time"
)

// CalltouchAPI is the read side of the Calltouch API used by the pipeline and
// the HTTP handlers.
type CalltouchAPI interface {
	FetchRequests(ctx context.Context, from, to time.Time) ([]Record, error)
	FetchOrders(ctx context.Context, from, to time.Time) ([]Record, error)
	FetchCalls(ctx context.Context, from, to time.Time, attribution int) ([]CampaignDay, error)
	FetchRawCalls(ctx context.Context, from, to time.Time, attribution int) ([]Record, error)
	FetchAudioRecording(ctx context.Context, callID string) AudioResult
	FetchStats(ctx context.Context, from, to time.Time, kind StatKind) StatsResult
}

// RowSink commits a batch at most once per run id. It returns false, nil when
// a batch with the same run id was already committed.
type RowSink interface {
	Write(ctx context.Context, batch Batch) (bool, error)
}
