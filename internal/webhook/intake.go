// Package webhook accepts provider callbacks, ties them back to their job and
// feeds terminal deliveries into fan-in.
package webhook

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/metrics"
)

// ErrInvalidPayload rejects a body that is not a JSON object or array.
var ErrInvalidPayload = errors.New("invalid payload")

// deliveryTimeout bounds the work done for an authenticated delivery once it
// no longer depends on the caller staying connected.
const deliveryTimeout = 2 * time.Minute

// Delivery statuses.
const (
	StatusAccepted = "accepted"
	StatusIgnored  = "ignored"
)

// Delivery is one inbound webhook call.
type Delivery struct {
	Topic         string
	PathID        string
	Authorization string
	Body          []byte
}

// Outcome describes how a delivery was handled.
type Outcome struct {
	Status     string
	JobID      string
	SourceType collector.SourceType
	// Terminal is true when the delivery was reported to fan-in.
	Terminal bool
}

// ResultSink receives every terminal body for bounded waiters.
type ResultSink interface {
	Deliver(ctx context.Context, topic, jobID string, payload json.RawMessage) error
}

// Deps are the intake's collaborators. Snapshots and Archiver are optional.
type Deps struct {
	Correlations collector.CorrelationStore
	Reporter     collector.Reporter
	Results      ResultSink
	Snapshots    collector.SnapshotLoader
	Archiver     collector.Archiver
}

// Intake validates and routes webhook deliveries.
type Intake struct {
	expectedAuth []byte
	deps         Deps
	logger       *zap.Logger
}

// New builds an Intake. An empty secret rejects every delivery.
func New(secret string, deps Deps, logger *zap.Logger) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	var expected []byte
	if secret != "" {
		expected = []byte("Bearer " + secret)
	}
	return &Intake{expectedAuth: expected, deps: deps, logger: logger.Named("webhook")}
}

// Receive authenticates, resolves and classifies one delivery.
func (in *Intake) Receive(ctx context.Context, d Delivery) (Outcome, error) {
	out, err := in.receive(ctx, d)
	metrics.ObserveWebhook(d.Topic, outcomeLabel(out, err))
	return out, err
}

func (in *Intake) receive(ctx context.Context, d Delivery) (Outcome, error) {
	if !in.authorized(d.Authorization) {
		return Outcome{}, collector.ErrUnauthorized
	}

	body, err := normalize(d.Body)
	if err != nil {
		return Outcome{}, err
	}

	jobID, corr, err := in.resolveJob(ctx, d, body)
	if err != nil {
		return Outcome{}, err
	}
	source := collector.SourceType(d.Topic)
	if s := corr.SourceType(); s != "" {
		source = s
	}
	out := Outcome{Status: StatusAccepted, JobID: jobID, SourceType: source}
	logger := in.logger.With(
		zap.String("topic", d.Topic),
		zap.String("job_id", jobID),
		zap.String("source_type", string(source)))

	status, hasStatus := stringField(body, "status")
	status = strings.ToLower(strings.TrimSpace(status))
	if hasStatus && !isTerminal(status) {
		logger.Info("non-terminal webhook acknowledged", zap.String("status", status))
		out.Status = StatusIgnored
		return out, nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode webhook body: %w", err)
	}

	// A provider that hangs up must not lose the result it already sent.
	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()
	if err := in.deps.Results.Deliver(work, d.Topic, jobID, raw); err != nil {
		return Outcome{}, collector.Unavailable("push webhook result", err)
	}

	result := in.resultFor(work, jobID, source, status, body, raw, logger)
	if err := in.deps.Reporter.ReportSourceComplete(work, jobID, source, result); err != nil {
		return Outcome{}, fmt.Errorf("report webhook result: %w", err)
	}
	out.Terminal = true
	logger.Info("terminal webhook accepted", zap.Bool("success", result.IsSuccess()))
	return out, nil
}

func (in *Intake) authorized(header string) bool {
	if len(in.expectedAuth) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), in.expectedAuth) == 1
}

// normalize decodes the body, wrapping a top-level array as {"results": [...]}.
func normalize(raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, collector.ErrMissingPayload
	}
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	switch v := decoded.(type) {
	case map[string]any:
		return v, nil
	case []any:
		return map[string]any{"results": v}, nil
	default:
		return nil, fmt.Errorf("%w: expected object or array", ErrInvalidPayload)
	}
}

// resolveJob prefers an explicit job_id, then the first non-empty of path
// id, correlation_id and snapshot_id through the correlation store.
func (in *Intake) resolveJob(ctx context.Context, d Delivery, body map[string]any) (string, collector.Correlation, error) {
	if jobID, _ := stringField(body, "job_id"); jobID != "" {
		return jobID, collector.Correlation{}, nil
	}
	corrID := firstNonEmpty(d.PathID, field(body, "correlation_id"), field(body, "snapshot_id"))
	if corrID == "" {
		return "", collector.Correlation{}, collector.ErrUnresolvedCorrelation
	}
	corr, err := in.deps.Correlations.Resolve(ctx, d.Topic, corrID)
	switch {
	case errors.Is(err, collector.ErrNotFound):
		in.logger.Info("unknown correlation id", zap.String("topic", d.Topic), zap.String("correlation_id", corrID))
		return "", collector.Correlation{}, collector.ErrUnresolvedCorrelation
	case err != nil:
		if errors.Is(err, collector.ErrInfrastructureUnavailable) {
			return "", collector.Correlation{}, err
		}
		return "", collector.Correlation{}, collector.Unavailable("resolve correlation", err)
	}
	return corr.JobID, corr, nil
}

func (in *Intake) resultFor(
	ctx context.Context,
	jobID string,
	source collector.SourceType,
	status string,
	body map[string]any,
	raw json.RawMessage,
	logger *zap.Logger,
) collector.Result {
	if status == "failed" {
		return collector.Failure(firstNonEmpty(field(body, "error"), field(body, "message"), "provider reported failure"))
	}
	snapshotID := field(body, "snapshot_id")
	if status == "ready" && snapshotID != "" && in.deps.Snapshots != nil && !hasResults(body) {
		return in.loadSnapshot(ctx, jobID, source, snapshotID, logger)
	}
	return collector.Success(raw)
}

func (in *Intake) loadSnapshot(
	ctx context.Context,
	jobID string,
	source collector.SourceType,
	snapshotID string,
	logger *zap.Logger,
) collector.Result {
	data, err := in.deps.Snapshots.FetchSnapshot(ctx, snapshotID)
	if err != nil {
		logger.Error("fetch snapshot failed", zap.String("snapshot_id", snapshotID), zap.Error(err))
		return collector.Failure(fmt.Sprintf("fetch snapshot %s: %v", snapshotID, err))
	}
	if in.deps.Archiver == nil {
		return collector.Success(data)
	}
	uri, err := in.deps.Archiver.Archive(ctx, jobID, source, data)
	if err != nil {
		logger.Error("archive snapshot failed", zap.String("snapshot_id", snapshotID), zap.Error(err))
		return collector.Failure(fmt.Sprintf("archive snapshot %s: %v", snapshotID, err))
	}
	result, err := collector.SuccessValue(uri)
	if err != nil {
		return collector.Failure(err.Error())
	}
	return result
}

func isTerminal(status string) bool {
	switch status {
	case "ready", "success", "failed":
		return true
	}
	return false
}

func hasResults(body map[string]any) bool {
	for _, key := range []string{"results", "data"} {
		if v, ok := body[key]; ok && v != nil {
			return true
		}
	}
	return false
}

func stringField(body map[string]any, key string) (string, bool) {
	v, ok := body[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}

func field(body map[string]any, key string) string {
	s, _ := stringField(body, key)
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func outcomeLabel(out Outcome, err error) string {
	switch {
	case errors.Is(err, collector.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, collector.ErrInfrastructureUnavailable):
		return "unavailable"
	case err != nil:
		return "rejected"
	case out.Status == StatusIgnored:
		return "ignored"
	default:
		return "accepted"
	}
}
