package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"LabNexus/internal/agent"
	"LabNexus/internal/convo"
	xerrors "LabNexus/internal/errors"
	"LabNexus/internal/ledger"
	"LabNexus/internal/notary"
	"LabNexus/internal/observability/metrics"
	"LabNexus/pkg/logger"
)

// Server 暴露会话与存证的 REST 接口。
type Server struct {
	addr    string
	apiKey  string
	runtime *agent.Runtime
	notary  *notary.Processor
	ledger  *ledger.Service
}

// NewServer 构造 API 服务实例。apiKey 为空时不启用鉴权。
func NewServer(addr, apiKey string, runtime *agent.Runtime, proc *notary.Processor, ledgerSvc *ledger.Service) *Server {
	return &Server{
		addr:    addr,
		apiKey:  strings.TrimSpace(apiKey),
		runtime: runtime,
		notary:  proc,
		ledger:  ledgerSvc,
	}
}

// Handler 返回完整的路由，供测试直接挂载。/metrics 不做鉴权，
// 供抓取器直接访问。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.instrument("/health", s.handleHealth))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/chat", s.instrument("/api/chat", s.requireKey(s.handleChat)))
	mux.HandleFunc("/api/provenance/jobs", s.instrument("/api/provenance/jobs", s.requireKey(s.handleEnqueueNotary)))
	mux.HandleFunc("/api/ledger/status", s.instrument("/api/ledger/status", s.requireKey(s.handleLedgerStatus)))
	return mux
}

// statusRecorder 捕获写出的状态码，供请求指标使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 记录每个路由的请求计数与时延。
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveRequest(route, r.Method, recorder.status, time.Since(started))
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.L().Info("API 服务已启动", "address", s.addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// requireKey 校验 X-API-Key 请求头。未配置 apiKey 时直接放行。
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ChatRequest 是一次会话回合的请求体。AgentOverride 指定时绕过意图
// 路由，直接交给该智能体；History 供无状态客户端携带既有对话记录。
type ChatRequest struct {
	ConversationID string        `json:"conversation_id"`
	Message        string        `json:"message"`
	AgentOverride  string        `json:"agent_override,omitempty"`
	History        []ChatMessage `json:"history,omitempty"`
}

// ChatMessage 是客户端携带的一条历史消息。
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 POST")
		return
	}
	if s.runtime == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "会话运行时未初始化")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "请求体解析失败")
		return
	}

	var opts []agent.TurnOption
	if req.AgentOverride != "" {
		opts = append(opts, agent.WithAgentOverride(req.AgentOverride))
	}
	if req.History != nil {
		seed := make([]convo.Message, 0, len(req.History))
		for _, msg := range req.History {
			seed = append(seed, convo.Message{Role: convo.Role(msg.Role), Content: msg.Content})
		}
		opts = append(opts, agent.WithSeedHistory(seed...))
	}

	result, err := s.runtime.HandleTurn(r.Context(), req.ConversationID, req.Message, opts...)
	if err != nil {
		s.writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeTurnError 把回合失败映射为 HTTP 响应。编排类失败（白名单
// 拦截）对用户表现为一句道歉加错误码，而不是 5xx 堆栈。
func (s *Server) writeTurnError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	switch code {
	case xerrors.CodeInvalidArgument:
		writeError(w, http.StatusBadRequest, string(code), err.Error())
	case xerrors.CodeNotFound:
		writeError(w, http.StatusNotFound, string(code), err.Error())
	case xerrors.CodeToolNotAllowed:
		writeJSON(w, http.StatusOK, map[string]any{
			"reply": "Sorry, I couldn't complete that request. Please try rephrasing it.",
			"error": string(code),
		})
	case xerrors.CodeLedgerUnavailable, xerrors.CodeReasoningFailure:
		writeError(w, http.StatusServiceUnavailable, string(code), err.Error())
	default:
		writeError(w, http.StatusInternalServerError, string(code), err.Error())
	}
}

// NotaryRequest 请求为实验投递异步存证任务。
type NotaryRequest struct {
	ExperimentID string `json:"experiment_id"`
}

func (s *Server) handleEnqueueNotary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 POST")
		return
	}
	if s.notary == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "存证流水线未启用")
		return
	}

	var req NotaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "请求体解析失败")
		return
	}

	jobID, err := s.notary.Enqueue(r.Context(), req.ExperimentID)
	if err != nil {
		code := xerrors.CodeOf(err)
		switch code {
		case xerrors.CodeNotFound:
			writeError(w, http.StatusNotFound, string(code), err.Error())
		case xerrors.CodeInvalidArgument:
			writeError(w, http.StatusBadRequest, string(code), err.Error())
		default:
			writeError(w, http.StatusInternalServerError, string(code), err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleLedgerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "账本服务未初始化")
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.Status(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
