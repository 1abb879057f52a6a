package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"smsrelay/internal/constants"
	apperrors "smsrelay/internal/errors"
	"smsrelay/internal/metrics"
	"smsrelay/internal/models"
	"smsrelay/internal/privacy"
	"smsrelay/internal/tracing"
)

// Payload is the JSON body posted to every endpoint.
type Payload struct {
	Sender       string `json:"sender"`
	Body         string `json:"body"`
	PartsCount   int    `json:"partsCount"`
	IsMultipart  bool   `json:"isMultipart"`
	EndpointName string `json:"endpointName"`
}

// Dispatcher performs the HTTP deliveries of a forwarding plan.
type Dispatcher struct {
	client           *http.Client
	maxParallel      int
	maxResponseBytes int64
	breakers         *breakers
	logger           *logrus.Logger
}

// NewDispatcher creates a dispatcher. A nil client gets one with the configured timeout.
func NewDispatcher(cfg models.DeliveryConfig, client *http.Client, logger *logrus.Logger) *Dispatcher {
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = constants.DefaultDeliveryTimeoutSec
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = constants.DefaultDeliveryMaxParallel
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = constants.DefaultMaxResponseBytes
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = constants.DefaultBreakerThreshold
	}
	if cfg.BreakerCooldownSec <= 0 {
		cfg.BreakerCooldownSec = constants.DefaultBreakerCooldownSec
	}
	if client == nil {
		client = &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		client:           client,
		maxParallel:      cfg.MaxParallel,
		maxResponseBytes: cfg.MaxResponseBytes,
		breakers:         newBreakers(cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownSec)*time.Second, logger),
		logger:           logger,
	}
}

// Execute delivers the plan to each of its endpoints concurrently and returns
// one result per endpoint, in plan order. A failing endpoint never prevents
// attempts on the others.
func (d *Dispatcher) Execute(ctx context.Context, plan models.ForwardingPlan) []models.DeliveryResult {
	ctx, span := tracing.StartSpan(ctx, "dispatch.execute",
		attribute.Int("endpoints", len(plan.Endpoints)),
		attribute.Int("parts", plan.PartCount),
	)
	defer span.End()

	results := make([]models.DeliveryResult, len(plan.Endpoints))
	g := new(errgroup.Group)
	g.SetLimit(d.maxParallel)

	for i, ep := range plan.Endpoints {
		g.Go(func() error {
			results[i] = d.deliver(ctx, plan, ep)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Outcome != models.OutcomeSuccess {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d deliveries failed", failed, len(results)))
	}
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, plan models.ForwardingPlan, ep models.Endpoint) models.DeliveryResult {
	ctx, span := tracing.StartSpan(ctx, "dispatch.endpoint",
		attribute.String("endpoint.id", ep.ID),
		attribute.String("endpoint.host", privacy.MaskURL(ep.URL)),
	)
	defer span.End()

	start := time.Now()
	result := models.DeliveryResult{EndpointID: ep.ID, EndpointName: ep.Name}

	var statusCode int
	err := d.breakers.allow(ep)
	skipped := err != nil
	if !skipped {
		statusCode, err = d.post(ctx, plan, ep)
	}
	result.Duration = time.Since(start)
	result.StatusCode = statusCode

	switch {
	case err == nil && statusCode >= 200 && statusCode < 300:
		result.Outcome = models.OutcomeSuccess
	default:
		delErr := apperrors.NewDeliveryError(ep.Name, statusCode, err)
		result.Err = delErr
		if delErr.Retryable {
			result.Outcome = models.OutcomeRetryableError
		} else {
			result.Outcome = models.OutcomeClientError
		}
		span.RecordError(delErr)
		span.SetStatus(codes.Error, string(result.Outcome))
	}
	span.SetAttributes(attribute.Int("http.status_code", statusCode), attribute.String("outcome", string(result.Outcome)))
	if skipped {
		span.SetAttributes(attribute.Bool("circuit_open", true))
	} else {
		d.breakers.record(ep, result.Outcome)
	}

	labels := map[string]string{"outcome": string(result.Outcome)}
	metrics.IncrementCounter("deliveries_total", labels, "Total endpoint delivery attempts")
	metrics.RecordTimer("delivery_duration", result.Duration, labels, "Endpoint delivery duration")

	fields := logrus.Fields{
		"endpoint":    ep.Name,
		"endpoint_id": ep.ID,
		"url":         privacy.MaskURL(ep.URL),
		"sender":      privacy.MaskSender(plan.Sender),
		"status_code": statusCode,
		"duration_ms": result.Duration.Milliseconds(),
		"outcome":     result.Outcome,
	}
	if workID := tracing.GetWorkID(ctx); workID != "" {
		fields["work_id"] = workID
	}
	if skipped {
		fields["circuit"] = d.breakers.state(ep).String()
	}
	if result.Err != nil {
		apperrors.LogRetryableError(d.logger, result.Err, "Endpoint delivery failed", fields)
	} else {
		d.logger.WithFields(fields).Debug("Endpoint delivery succeeded")
	}
	return result
}

// post sends one request and returns the response status. A zero status with
// an error means no response was received.
func (d *Dispatcher) post(ctx context.Context, plan models.ForwardingPlan, ep models.Endpoint) (int, error) {
	partCount := plan.PartCount
	if partCount < 1 {
		partCount = 1
	}
	body, err := json.Marshal(Payload{
		Sender:       plan.Sender,
		Body:         plan.Body,
		PartsCount:   partCount,
		IsMultipart:  partCount > 1,
		EndpointName: ep.Name,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ep.HeaderName(), ep.Credential)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, d.maxResponseBytes))
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return resp.StatusCode, nil
}
