package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"IntentLayer-Lite/internal/auth"
	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/internal/mandate"
	"IntentLayer-Lite/internal/router"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func decodeIntent(w http.ResponseWriter, r *http.Request) (*intent.Intent, error) {
	return intent.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// authorizePrincipal 在 JWT 模式下要求令牌主体与请求涉及的地址一致。
func (s *Server) authorizePrincipal(r *http.Request, role, principal string) error {
	if s.auth.Mode() != auth.ModeJWT {
		return nil
	}
	subject := auth.SubjectFromContext(r.Context())
	if subject.Is(principal) {
		return nil
	}
	return xerrors.New(xerrors.CodePermissionDenied, "令牌主体与 "+role+" 不一致",
		xerrors.WithMetadata(role, principal))
}

func (s *Server) handleRegisterMandate(w http.ResponseWriter, r *http.Request) {
	var req mandate.RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.mandates.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMandates(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset := pagination(query.Get("limit"), query.Get("offset"))
	list, err := s.mandates.List(r.Context(),
		mandate.WithOwner(query.Get("owner")),
		mandate.WithAgent(query.Get("agent")),
		mandate.WithStatus(mandate.Status(query.Get("status"))),
		mandate.WithLimit(limit),
		mandate.WithOffset(offset),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetMandate(w http.ResponseWriter, r *http.Request) {
	m, err := s.mandates.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRevokeMandate(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	id := r.PathValue("id")
	current, err := s.mandates.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.authorizePrincipal(r, "owner", current.Owner); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.mandates.Revoke(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMandateBudget(w http.ResponseWriter, r *http.Request) {
	budget, err := s.mandates.Budget(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	in, err := decodeIntent(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.authorizePrincipal(r, "agent", in.Agent); err != nil {
		writeError(w, r, err)
		return
	}
	record, err := s.intents.Submit(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) handlePreviewIntent(w http.ResponseWriter, r *http.Request) {
	in, err := decodeIntent(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	plan, err := s.intents.Preview(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "缺少意图 ID"))
		return
	}
	record, err := s.intents.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	opts, err := intentListOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := s.intents.List(r.Context(), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleIntentStats(w http.ResponseWriter, r *http.Request) {
	opts, err := intentListOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.intents.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if s.chains == nil {
		writeJSON(w, http.StatusOK, map[string]any{"default": "", "chains": map[string]any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default": s.chains.DefaultChain(),
		"chains":  s.chains.Snapshots(r.Context()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.chains != nil {
		payload["chains"] = s.chains.Chains()
	}
	writeJSON(w, http.StatusOK, payload)
}

// intentListOptions 解析列表与统计接口共用的查询参数。
func intentListOptions(r *http.Request) ([]router.ListOption, error) {
	query := r.URL.Query()
	limit, offset := pagination(query.Get("limit"), query.Get("offset"))
	opts := []router.ListOption{
		router.WithLimit(limit),
		router.WithOffset(offset),
		router.WithMandate(query.Get("mandate_id")),
		router.WithAgent(query.Get("agent")),
		router.WithQuery(query.Get("q")),
		router.WithSortOrder(router.ParseSortOrder(query.Get("order"))),
	}

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		var statuses []router.Status
		for _, part := range strings.Split(raw, ",") {
			status := router.Status(strings.ToLower(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if !router.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的意图状态: "+string(status),
					xerrors.WithMetadata("field", "status"))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, router.WithStatuses(statuses...))
	}
	for param, build := range map[string]func(time.Time) router.ListOption{
		"updated_since": router.WithUpdatedSince,
		"updated_until": router.WithUpdatedUntil,
	} {
		raw := strings.TrimSpace(query.Get(param))
		if raw == "" {
			continue
		}
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, param+" 必须是 Unix 秒",
				xerrors.WithMetadata("field", param))
		}
		opts = append(opts, build(time.Unix(ts, 0)))
	}
	if raw := strings.TrimSpace(query.Get("has_result")); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "has_result 必须是布尔值",
				xerrors.WithMetadata("field", "has_result"))
		}
		opts = append(opts, router.WithResultPresence(hasResult))
	}
	return opts, nil
}

func pagination(rawLimit, rawOffset string) (int, int) {
	limit := 20
	if parsed, err := strconv.Atoi(rawLimit); err == nil && parsed > 0 {
		limit = parsed
	}
	offset := 0
	if parsed, err := strconv.Atoi(rawOffset); err == nil && parsed > 0 {
		offset = parsed
	}
	return limit, offset
}
