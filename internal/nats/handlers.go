package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/telemetry-agent/internal/ledger"
	"github.com/stone-age-io/telemetry-agent/internal/tasks"
	"go.uber.org/zap"
)

// commandTimeout bounds ledger and verification work triggered remotely
const commandTimeout = 30 * time.Second

// LedgerStore is the ledger surface exposed to remote commands
type LedgerStore interface {
	Load(ctx context.Context) (*ledger.Record, error)
	Add(ctx context.Context, l ledger.List, name string) error
	Remove(ctx context.Context, l ledger.List, name string) error
	Compact(ctx context.Context) error
}

// Verifier runs an immediate verification of the ledger lists
type Verifier interface {
	RunVerification(ctx context.Context) (*tasks.VerificationReport, error)
}

// Publisher sends a message on a subject
type Publisher interface {
	Publish(subject string, data []byte) error
}

// CommandHandlers manages command subscriptions for one agent
type CommandHandlers struct {
	logger        *zap.Logger
	agentID       string
	subjectPrefix string
	store         LedgerStore
	verifier      Verifier
	executor      *tasks.Executor
	publisher     Publisher
	version       string
}

// NewCommandHandlers creates a new command handler manager
func NewCommandHandlers(logger *zap.Logger, agentID, subjectPrefix string, store LedgerStore, verifier Verifier, executor *tasks.Executor, publisher Publisher, version string) *CommandHandlers {
	return &CommandHandlers{
		logger:        logger,
		agentID:       agentID,
		subjectPrefix: subjectPrefix,
		store:         store,
		verifier:      verifier,
		executor:      executor,
		publisher:     publisher,
		version:       version,
	}
}

// subject builds "<prefix>.<agent_id>.<suffix>"
func (h *CommandHandlers) subject(suffix string) string {
	return fmt.Sprintf("%s.%s.%s", h.subjectPrefix, h.agentID, suffix)
}

// handleWithRecovery wraps a command handler with panic recovery
// so a panic in one handler cannot crash the agent.
func (h *CommandHandlers) handleWithRecovery(name string, handler nats.MsgHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("Panic recovered in command handler",
					zap.String("handler", name),
					zap.String("subject", msg.Subject),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))

				h.respond(msg, newErrorResponse(fmt.Sprintf("Internal error: handler panicked: %v", r)))
			}
		}()

		handler(msg)
	}
}

// Subscriber is satisfied by *Client
type Subscriber interface {
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// SubscribeAll subscribes to every command subject for this agent
func (h *CommandHandlers) SubscribeAll(client Subscriber) error {
	commands := []struct {
		name    string
		handler nats.MsgHandler
	}{
		{"ping", h.handlePing},
		{"health", h.handleHealth},
		{"ledger", h.handleLedger},
		{"verify", h.handleVerify},
	}

	for _, cmd := range commands {
		if _, err := client.Subscribe(
			h.subject("cmd."+cmd.name),
			h.handleWithRecovery(cmd.name, cmd.handler),
		); err != nil {
			return err
		}
	}

	return nil
}

// PublishReport sends a verification report to "<prefix>.<agent_id>.verification"
func (h *CommandHandlers) PublishReport(report *tasks.VerificationReport) error {
	if h.publisher == nil {
		return fmt.Errorf("no publisher configured")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return h.publisher.Publish(h.subject("verification"), data)
}

// Request and response structures

type pingResponse struct {
	Status    string `json:"status"`
	AgentID   string `json:"agent_id"`
	Version   string `json:"version,omitempty"`
	Timestamp string `json:"timestamp"`
}

type healthResponse struct {
	Status       string              `json:"status"`
	AgentMetrics *tasks.AgentMetrics `json:"agent_metrics"`
	Timestamp    string              `json:"timestamp"`
}

type ledgerRequest struct {
	Action string `json:"action"` // list, add, remove, compact
	List   string `json:"list,omitempty"`
	Name   string `json:"name,omitempty"`
}

type ledgerResponse struct {
	Status    string   `json:"status"`
	Action    string   `json:"action,omitempty"`
	AgentID   string   `json:"agent_id,omitempty"`
	Services  []string `json:"services,omitempty"`
	Tasks     []string `json:"tasks,omitempty"`
	Error     string   `json:"error,omitempty"`
	Timestamp string   `json:"timestamp"`
}

type verifyResponse struct {
	Status    string                    `json:"status"`
	Healthy   bool                      `json:"healthy"`
	Report    *tasks.VerificationReport `json:"report,omitempty"`
	Error     string                    `json:"error,omitempty"`
	Timestamp string                    `json:"timestamp"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func newErrorResponse(msg string) errorResponse {
	return errorResponse{Status: "error", Error: msg, Timestamp: now()}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (h *CommandHandlers) handlePing(msg *nats.Msg) {
	h.logger.Debug("Received ping command")
	h.respond(msg, h.ping())
}

func (h *CommandHandlers) ping() pingResponse {
	return pingResponse{
		Status:    "pong",
		AgentID:   h.agentID,
		Version:   h.version,
		Timestamp: now(),
	}
}

func (h *CommandHandlers) handleHealth(msg *nats.Msg) {
	h.logger.Debug("Received health check command")
	h.respond(msg, h.health())
}

func (h *CommandHandlers) health() healthResponse {
	return healthResponse{
		Status:       "healthy",
		AgentMetrics: h.executor.GetAgentMetrics(),
		Timestamp:    now(),
	}
}

func (h *CommandHandlers) handleLedger(msg *nats.Msg) {
	h.logger.Debug("Received ledger command")

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	h.respond(msg, h.ledgerCommand(ctx, msg.Data))
}

// ledgerCommand applies one ledger request and returns the resulting lists
func (h *CommandHandlers) ledgerCommand(ctx context.Context, data []byte) ledgerResponse {
	var req ledgerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Error("Failed to parse ledger request", zap.Error(err))
		return ledgerResponse{Status: "error", Error: "Invalid request format", Timestamp: now()}
	}

	action := strings.ToLower(strings.TrimSpace(req.Action))
	resp := ledgerResponse{Action: action, Timestamp: now()}

	err := h.applyLedgerAction(ctx, action, req)
	if err == nil {
		var rec *ledger.Record
		rec, err = h.store.Load(ctx)
		if err == nil {
			resp.Status = "success"
			resp.AgentID = rec.AgentID.String()
			resp.Services = rec.Services
			resp.Tasks = rec.Tasks
		}
	}

	if err != nil {
		h.logger.Error("Ledger command failed",
			zap.String("action", action),
			zap.String("list", req.List),
			zap.String("name", req.Name),
			zap.Error(err))
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}

	if action != "list" {
		h.logger.Info("Ledger command succeeded",
			zap.String("action", action),
			zap.String("list", req.List),
			zap.String("name", req.Name))
	}
	return resp
}

func (h *CommandHandlers) applyLedgerAction(ctx context.Context, action string, req ledgerRequest) error {
	switch action {
	case "list":
		return nil
	case "compact":
		return h.store.Compact(ctx)
	case "add", "remove":
		l, err := ledger.ParseList(req.List)
		if err != nil {
			return err
		}
		if action == "add" {
			return h.store.Add(ctx, l, req.Name)
		}
		return h.store.Remove(ctx, l, req.Name)
	default:
		return fmt.Errorf("unknown ledger action: %q (must be list, add, remove or compact)", req.Action)
	}
}

func (h *CommandHandlers) handleVerify(msg *nats.Msg) {
	h.logger.Debug("Received verify command")

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	resp := h.verify(ctx)
	h.respond(msg, resp)

	if resp.Report != nil && h.publisher != nil {
		if err := h.PublishReport(resp.Report); err != nil {
			h.logger.Warn("Failed to publish verification report", zap.Error(err))
		}
	}
}

func (h *CommandHandlers) verify(ctx context.Context) verifyResponse {
	report, err := h.verifier.RunVerification(ctx)
	if err != nil {
		h.logger.Error("Verification command failed", zap.Error(err))
		status := "error"
		if errors.Is(err, ledger.ErrNotFound) {
			status = "not_found"
		}
		return verifyResponse{Status: status, Error: err.Error(), Timestamp: now()}
	}

	return verifyResponse{
		Status:    "success",
		Healthy:   report.Healthy(),
		Report:    report,
		Timestamp: now(),
	}
}

// respond marshals v and replies to msg
func (h *CommandHandlers) respond(msg *nats.Msg, v any) {
	responseBytes, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to marshal response", zap.Error(err))
		responseBytes, _ = json.Marshal(newErrorResponse("Internal error: failed to marshal response"))
	}
	if err := msg.Respond(responseBytes); err != nil {
		h.logger.Debug("Failed to send response",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}
