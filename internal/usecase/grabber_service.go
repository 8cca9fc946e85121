package usecase

import (
	"context"
	"fmt"
	"time"

	"calltouch-etl/internal/domain"
	"calltouch-etl/pkg/logger"
)

// GrabberService serves ad-hoc Calltouch reads for the HTTP API.
type GrabberService struct {
	api         domain.CalltouchAPI
	logger      *logger.Logger
	attribution int
}

func NewGrabberService(api domain.CalltouchAPI, attribution int, logger *logger.Logger) *GrabberService {
	return &GrabberService{api: api, logger: logger, attribution: attribution}
}

// Calls returns per-campaign summaries, or the raw call records when raw is set.
func (s *GrabberService) Calls(ctx context.Context, from, to time.Time, raw bool) (any, error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"from": from.Format("2006-01-02"),
		"to":   to.Format("2006-01-02"),
		"raw":  raw,
	})

	if raw {
		calls, err := s.api.FetchRawCalls(ctx, from, to, s.attribution)
		if err != nil {
			log.WithError(err).Error("Failed to get calls")
			return nil, err
		}
		return calls, nil
	}

	summaries, err := s.api.FetchCalls(ctx, from, to, s.attribution)
	if err != nil {
		log.WithError(err).Error("Failed to get calls")
		return nil, err
	}
	return summaries, nil
}

func (s *GrabberService) Orders(ctx context.Context, from, to time.Time) ([]domain.Record, error) {
	orders, err := s.api.FetchOrders(ctx, from, to)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to get orders")
		return nil, err
	}
	return orders, nil
}

func (s *GrabberService) Requests(ctx context.Context, from, to time.Time) ([]domain.Record, error) {
	requests, err := s.api.FetchRequests(ctx, from, to)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to get requests")
		return nil, err
	}
	return requests, nil
}

// Stats validates kind and returns the API's reported result.
func (s *GrabberService) Stats(ctx context.Context, from, to time.Time, kind domain.StatKind) (domain.StatsResult, error) {
	known := false
	for _, k := range domain.StatKinds {
		if k == kind {
			known = true
			break
		}
	}
	if !known {
		return domain.StatsResult{}, fmt.Errorf("unknown stat kind %q", kind)
	}

	result := s.api.FetchStats(ctx, from, to, kind)
	if !result.Status {
		s.logger.WithContext(ctx).WithField("kind", kind).WithField("message", result.Message).Warn("Stats fetch reported failure")
	}
	return result, nil
}

func (s *GrabberService) Recording(ctx context.Context, callID string) domain.AudioResult {
	result := s.api.FetchAudioRecording(ctx, callID)
	if !result.Status {
		s.logger.WithContext(ctx).WithField("call_id", callID).WithField("message", result.Message).Warn("Call record download reported failure")
	}
	return result
}
