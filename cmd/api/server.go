package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"signflow/completion"
	"signflow/document"
	"signflow/errs"
	"signflow/lifecycle"
	"signflow/otp"
)

type documentService interface {
	CreateDocument(ctx context.Context, params document.CreateParams) (document.Document, error)
	UpdateMetadata(ctx context.Context, id string, patch document.MetadataPatch) (document.Document, error)
	Get(ctx context.Context, id string) (document.Document, error)
	List(ctx context.Context, statuses ...document.Status) ([]document.Document, error)
	Publish(ctx context.Context, id string) (document.Document, error)
	BulkPublish(ctx context.Context, templateID string, targets []document.Recipient) (lifecycle.BulkResult, error)
	UploadURL(ctx context.Context, id, fileName string) (lifecycle.UploadTarget, error)
	ViewURL(ctx context.Context, id string) (string, error)
	Consolidated(ctx context.Context, id string) (map[string]any, error)
}

type completionService interface {
	Submit(ctx context.Context, req completion.SubmitRequest) (completion.Receipt, error)
	FetchForCompletion(ctx context.Context, token string) (completion.View, error)
}

type credentialIssuer interface {
	Issue(identity string, external bool) (string, time.Time, error)
}

type codeService interface {
	Issue(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) (bool, error)
}

// Server exposes the workflow over HTTP.
type Server struct {
	documents   documentService
	completions completionService
	credentials credentialIssuer
	codes       codeService
	log         zerolog.Logger
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/", s.handleCreateDocument)
		r.Get("/", s.handleListDocuments)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetDocument)
			r.Put("/", s.handleUpdateDocument)
			r.Post("/upload-url", s.handleUploadURL)
			r.Get("/view-url", s.handleViewURL)
			r.Put("/publish", s.handlePublish)
			r.Post("/bulk-publish", s.handleBulkPublish)
			r.Get("/values", s.handleValues)
			r.Post("/submit", s.handleSubmit)
		})
	})
	r.Get("/api/completions/{token}", s.handleFetchForCompletion)

	r.Post("/api/one-time-codes", s.handleIssueCode)
	r.Post("/api/one-time-codes/verify", s.handleVerifyCode)
	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			event := log.Info()
			if status >= 500 {
				event = log.Error()
			} else if status >= 400 {
				event = log.Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Int("bytes", ww.BytesWritten()).
				Msg("http_request")
		})
	}
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := s.documents.CreateDocument(r.Context(), document.CreateParams{Title: req.Title, OwnerID: req.OwnerID})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	var statuses []document.Status
	switch q := strings.TrimSpace(r.URL.Query().Get("status")); q {
	case "":
	case "open":
		statuses = []document.Status{document.StatusDraft, document.StatusPublished}
	default:
		for _, part := range strings.Split(q, ",") {
			st := document.Status(strings.TrimSpace(part))
			if !st.Valid() {
				writeJSON(w, http.StatusBadRequest, errorResponse{Code: string(errs.KindValidation), Message: "unknown status " + part})
				return
			}
			statuses = append(statuses, st)
		}
	}

	docs, err := s.documents.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		items = append(items, toDocumentResponse(d))
	}
	writeJSON(w, http.StatusOK, listResponse[documentResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req updateDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := s.documents.UpdateMetadata(r.Context(), chi.URLParam(r, "id"), req.toPatch())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target, err := s.documents.UploadURL(r.Context(), chi.URLParam(r, "id"), req.FileName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadURLResponse{URL: target.URL, Key: target.Key})
}

func (s *Server) handleViewURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.documents.ViewURL(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewURLResponse{URL: url})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Publish(r.Context(), chi.URLParam(r, "id"))
	if err != nil && doc.ID == "" {
		s.writeError(w, err)
		return
	}
	resp := publishResponse{Document: toDocumentResponse(doc)}
	if err != nil {
		s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("publish finished with recipient failures")
		resp.Warnings = splitJoined(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBulkPublish(w http.ResponseWriter, r *http.Request) {
	var req bulkPublishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	targets := make([]document.Recipient, 0, len(req.Recipients))
	for _, rc := range req.Recipients {
		targets = append(targets, rc.toRecipient())
	}
	result, err := s.documents.BulkPublish(r.Context(), chi.URLParam(r, "id"), targets)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ids := make([]string, 0, len(result.Documents))
	for _, d := range result.Documents {
		ids = append(ids, d.ID)
	}
	writeJSON(w, http.StatusOK, bulkPublishResponse{ClonedCount: result.Cloned, FailedCount: result.Failed, DocumentIDs: ids})
}

func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	values, err := s.documents.Consolidated(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valuesResponse{Values: values})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	receipt, err := s.completions.Submit(r.Context(), completion.SubmitRequest{
		DocumentID:        chi.URLParam(r, "id"),
		Token:             req.Token,
		RecipientIdentity: req.RecipientIdentity,
		FieldValues:       req.FieldValues,
	})
	if err != nil && receipt.CaptureKey == "" {
		s.writeError(w, err)
		return
	}
	resp := submitResponse{CaptureKey: receipt.CaptureKey, Completed: receipt.Finalized}
	if err != nil {
		resp.Warnings = []string{err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFetchForCompletion(w http.ResponseWriter, r *http.Request) {
	view, err := s.completions.FetchForCompletion(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := toCompletionResponse(view)
	if s.credentials != nil {
		bearer, expires, err := s.credentials.Issue(view.CurrentRecipient, view.External)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.Credential = bearer
		resp.CredentialExpiresAt = expires.UTC().Format(time.RFC3339)
		w.Header().Set("Authorization", "Bearer "+bearer)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	var req issueCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.codes.Issue(r.Context(), req.Email); err != nil {
		if errors.Is(err, otp.ErrEmailRequired) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Code: string(errs.KindValidation), Message: err.Error()})
			return
		}
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ok, err := s.codes.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyCodeResponse{Valid: ok})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := kind.HTTPStatus()
	msg := err.Error()
	if kind == errs.KindInternal {
		s.log.Error().Err(err).Msg("unhandled error")
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Code: string(kind), Message: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: string(errs.KindValidation), Message: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
