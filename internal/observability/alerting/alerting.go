// Package alerting 把需要人工介入的故障（余额不足、存证任务重试耗尽）
// 推送到通知渠道。渠道实现可插拔，事件总是同时落入审计日志。
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/observability/metrics"
	"LabNexus/pkg/logger"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code         xerrors.Code
	Message      string
	Severity     xerrors.Severity
	ExperimentID string
	JobID        string
	Attempts     int
	MaxAttempts  int
	Metadata     map[string]string
	OccurredAt   time.Time
}

// summary 渲染一行人类可读的事件描述。
func (e Event) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", e.Severity, e.Code, e.Message)
	if e.ExperimentID != "" {
		fmt.Fprintf(&b, " (experiment %s", e.ExperimentID)
		if e.JobID != "" {
			fmt.Fprintf(&b, ", job %s", e.JobID)
		}
		b.WriteString(")")
	}
	if e.MaxAttempts > 0 {
		fmt.Fprintf(&b, " after %d/%d attempts", e.Attempts, e.MaxAttempts)
	}
	return b.String()
}

// FromError 从统一错误构造事件，保留错误码、级别与元数据。
func FromError(err error) Event {
	event := Event{
		Code:       xerrors.CodeOf(err),
		Severity:   xerrors.SeverityOf(err),
		OccurredAt: time.Now(),
	}
	if e, ok := xerrors.From(err); ok {
		event.Message = e.Message()
		event.Metadata = e.Metadata()
	} else if err != nil {
		event.Message = err.Error()
	}
	return event
}

// Notifier 是一个通知渠道。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 把事件广播给全部渠道。单个渠道失败不阻断其余渠道，
// 失败以合并错误返回并记录日志。
type Dispatcher struct {
	notifiers []Notifier
}

// NewDispatcher 构造广播器，nil 渠道被忽略。
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	return d
}

// Notify 把事件发给全部渠道。nil 接收者是合法的空操作，
// 让未配置告警的调用方不必判空。
func (d *Dispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			logger.L().Error("告警渠道投递失败",
				"channel", notifier.Name(), "code", string(event.Code), "error", err)
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Name(), err))
			continue
		}
	}
	metrics.CountEvent("alerts", "dispatched")
	return errors.Join(errs...)
}

// AuditNotifier 把事件写入审计日志流，是永远可用的兜底渠道。
type AuditNotifier struct{}

var _ Notifier = (*AuditNotifier)(nil)

// Name 返回渠道名。
func (n *AuditNotifier) Name() string { return "audit_log" }

// Notify 记录事件。
func (n *AuditNotifier) Notify(ctx context.Context, event Event) error {
	logger.Audit().Error("alert_dispatched",
		"code", string(event.Code),
		"severity", string(event.Severity),
		"message", event.Message,
		"experiment_id", event.ExperimentID,
		"job_id", event.JobID,
		"attempts", event.Attempts,
		"max_attempts", event.MaxAttempts,
	)
	return nil
}

// WebhookNotifier 把事件 POST 到一个 Slack 兼容的 webhook 地址。
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

var _ Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier 构造 webhook 渠道。url 为空时返回 nil，
// 由 NewDispatcher 忽略。
func NewWebhookNotifier(url string) *WebhookNotifier {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil
	}
	return &WebhookNotifier{
		url:        trimmed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name 返回渠道名。
func (n *WebhookNotifier) Name() string { return "webhook" }

// Notify 发送 {"text": ...} 消息体。未配置地址的渠道是空操作。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil {
		return nil
	}
	body, err := json.Marshal(map[string]string{"text": event.summary()})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook rejected alert with status %d", resp.StatusCode)
	}
	return nil
}
