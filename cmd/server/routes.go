package main

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"signgate/internal/engine"
	"signgate/pkg/httpx"
)

var documentIDRe = regexp.MustCompile(`^[a-z_]+$`)

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		dbOK := a.store.Ping(r.Context()) == nil
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(),
			"service":    "signgate",
			"version":    serviceVersion,
			"status": map[string]any{
				"generator_configured": a.gen.Configured(),
				"webhook_configured":   a.notifier.Configured(),
				"database_connected":   dbOK,
				"scheduler_running":    a.sched.Running(),
			},
		})
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/documents", func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"documents":  a.library.List(),
			})
		})

		api.Get("/documents/{document_id}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "document_id")
			if !documentIDRe.MatchString(id) {
				httpx.WriteError(w, 400, httpx.CodeBadRequest, "document_id must match ^[a-z_]+$", nil)
				return
			}
			doc, err := a.library.Load(id)
			if err != nil {
				httpx.WriteError(w, 404, httpx.CodeNotFound, "document not found", nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"document":   doc,
			})
		})

		api.Post("/send-document", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				SenderEmail   string `json:"sender_email"`
				SenderName    string `json:"sender_name"`
				Purpose       string `json:"purpose"`
				ReceiverEmail string `json:"receiver_email"`
				DocumentID    string `json:"document_id"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, httpx.CodeBadJSON, err.Error(), nil)
				return
			}
			if msg := validateSendRequest(req.SenderEmail, req.SenderName, req.Purpose, req.ReceiverEmail, req.DocumentID); msg != "" {
				httpx.WriteError(w, 400, httpx.CodeBadRequest, msg, nil)
				return
			}
			result, err := a.engine.CreateSignatureRequest(r.Context(), engine.CreateRequest{
				SenderEmail:   strings.TrimSpace(req.SenderEmail),
				SenderName:    strings.TrimSpace(req.SenderName),
				Purpose:       strings.TrimSpace(req.Purpose),
				ReceiverEmail: strings.TrimSpace(req.ReceiverEmail),
				DocumentID:    req.DocumentID,
			})
			if err != nil {
				writeEngineError(w, err)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{
				"request_id": httpx.NewRequestID(),
				"signature":  result,
			})
		})

		api.Get("/signature/{tracking_id}", func(w http.ResponseWriter, r *http.Request) {
			sig, doc, err := a.engine.GetSignature(r.Context(), chi.URLParam(r, "tracking_id"))
			if err != nil {
				writeEngineError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"signature":  sig,
				"document":   doc,
			})
		})

		api.Post("/submit-signature/{tracking_id}", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Acknowledged bool   `json:"acknowledged"`
				Date         string `json:"date"`
				Location     string `json:"location"`
				Name         string `json:"name"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, httpx.CodeBadJSON, err.Error(), nil)
				return
			}
			if msg := validateAcknowledgment(req.Date, req.Location, req.Name); msg != "" {
				httpx.WriteError(w, 400, httpx.CodeBadRequest, msg, nil)
				return
			}
			result, err := a.engine.Acknowledge(r.Context(), chi.URLParam(r, "tracking_id"), engine.Acknowledgment{
				Acknowledged: req.Acknowledged,
				Date:         strings.TrimSpace(req.Date),
				Location:     strings.TrimSpace(req.Location),
				SignerName:   strings.TrimSpace(req.Name),
			})
			if err != nil {
				writeEngineError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"message":    "Signature acknowledged. Please complete the quiz.",
				"quiz":       result,
			})
		})

		api.Get("/quiz/{quiz_id}", func(w http.ResponseWriter, r *http.Request) {
			view, err := a.engine.QuizForTaker(r.Context(), chi.URLParam(r, "quiz_id"))
			if err != nil {
				writeEngineError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"quiz":       view,
			})
		})

		api.Post("/submit-quiz/{quiz_id}", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Answers map[string]string `json:"answers"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, httpx.CodeBadJSON, err.Error(), nil)
				return
			}
			if req.Answers == nil {
				httpx.WriteError(w, 400, httpx.CodeBadRequest, "answers is required", nil)
				return
			}
			result, err := a.engine.SubmitQuiz(r.Context(), chi.URLParam(r, "quiz_id"), req.Answers)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			message := "Quiz failed. Please try again."
			if result.Passed {
				message = "Quiz submitted successfully"
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"message":    message,
				"result":     result,
			})
		})

		api.Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
			limit, err := httpx.QueryInt(r, "limit", 50)
			if err != nil {
				httpx.WriteError(w, 400, httpx.CodeBadRequest, err.Error(), nil)
				return
			}
			offset, err := httpx.QueryInt(r, "offset", 0)
			if err != nil {
				httpx.WriteError(w, 400, httpx.CodeBadRequest, err.Error(), nil)
				return
			}
			if limit < 1 || limit > 100 {
				httpx.WriteError(w, 400, httpx.CodeBadRequest, "limit must be between 1 and 100", nil)
				return
			}
			if offset < 0 {
				httpx.WriteError(w, 400, httpx.CodeBadRequest, "offset must not be negative", nil)
				return
			}
			page, err := a.engine.Dashboard(r.Context(), limit, offset)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"dashboard":  page,
			})
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Delete("/clear-all-data", a.handleClearAll)
			admin.Delete("/clear-old-data", a.handleClearOld)
		})
	})

	registerPages(r)
	return r
}

const maxNameLen = 100

func validateSendRequest(senderEmail, senderName, purpose, receiverEmail, documentID string) string {
	if !isSaneEmail(senderEmail) {
		return "sender_email is invalid"
	}
	if !isSaneEmail(receiverEmail) {
		return "receiver_email is invalid"
	}
	if n := len(strings.TrimSpace(senderName)); n < 1 || n > maxNameLen {
		return "sender_name must be 1-100 characters"
	}
	if n := len(strings.TrimSpace(purpose)); n < 1 || n > 500 {
		return "purpose must be 1-500 characters"
	}
	if !documentIDRe.MatchString(documentID) {
		return "document_id must match ^[a-z_]+$"
	}
	return ""
}

func validateAcknowledgment(date, location, name string) string {
	if strings.TrimSpace(date) == "" {
		return "date is required"
	}
	if n := len(strings.TrimSpace(location)); n < 1 || n > maxNameLen {
		return "location must be 1-100 characters"
	}
	if n := len(strings.TrimSpace(name)); n < 1 || n > maxNameLen {
		return "name must be 1-100 characters"
	}
	return ""
}

func isSaneEmail(email string) bool {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(email)), "@")
	if len(parts) != 2 {
		return false
	}
	local := strings.TrimSpace(parts[0])
	domain := strings.TrimSpace(parts[1])
	return local != "" && domain != "" && strings.Contains(domain, ".")
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		httpx.WriteError(w, 404, httpx.CodeNotFound, err.Error(), nil)
	case errors.Is(err, engine.ErrConflict):
		httpx.WriteError(w, 409, httpx.CodeConflict, err.Error(), nil)
	default:
		httpx.WriteError(w, 500, httpx.CodeStoreError, err.Error(), nil)
	}
}
