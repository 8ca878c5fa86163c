package main

import (
	"time"

	"signflow/completion"
	"signflow/document"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type createDocumentRequest struct {
	Title   string `json:"title"`
	OwnerID string `json:"ownerId"`
}

type updateDocumentRequest struct {
	BlobKey    string               `json:"blobKey"`
	Pages      int                  `json:"pages"`
	Type       string               `json:"type"`
	Fields     []document.Field     `json:"fields"`
	Recipients []document.Recipient `json:"recipients"`
	Status     string               `json:"status"`
}

func (r updateDocumentRequest) toPatch() document.MetadataPatch {
	return document.MetadataPatch{
		BlobKey:    r.BlobKey,
		Pages:      r.Pages,
		Type:       r.Type,
		Fields:     r.Fields,
		Recipients: r.Recipients,
		Status:     document.Status(r.Status),
	}
}

type documentResponse struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	OwnerID     string               `json:"ownerId"`
	BlobKey     string               `json:"blobKey,omitempty"`
	Pages       int                  `json:"pages"`
	Type        string               `json:"type,omitempty"`
	Fields      []document.Field     `json:"fields"`
	Recipients  []document.Recipient `json:"recipients"`
	Status      string               `json:"status"`
	CompletedAt string               `json:"completedAt,omitempty"`
	CreatedAt   string               `json:"createdAt"`
	UpdatedAt   string               `json:"updatedAt"`
}

func toDocumentResponse(d document.Document) documentResponse {
	resp := documentResponse{
		ID:         d.ID,
		Title:      d.Title,
		OwnerID:    d.OwnerID,
		BlobKey:    d.BlobKey,
		Pages:      d.Pages,
		Type:       d.Type,
		Fields:     d.Fields,
		Recipients: d.Recipients,
		Status:     string(d.Status),
		CreatedAt:  formatTime(d.CreatedAt),
		UpdatedAt:  formatTime(d.UpdatedAt),
	}
	if resp.Fields == nil {
		resp.Fields = []document.Field{}
	}
	if resp.Recipients == nil {
		resp.Recipients = []document.Recipient{}
	}
	if d.CompletedAt != nil {
		resp.CompletedAt = formatTime(*d.CompletedAt)
	}
	return resp
}

type uploadURLRequest struct {
	FileName string `json:"fileName"`
}

type uploadURLResponse struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

type viewURLResponse struct {
	URL string `json:"url"`
}

type publishResponse struct {
	Document documentResponse `json:"document"`
	Warnings []string         `json:"warnings,omitempty"`
}

type bulkPublishRequest struct {
	Recipients []recipientRequest `json:"recipients"`
}

type recipientRequest struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	External bool   `json:"isExternal"`
}

func (r recipientRequest) toRecipient() document.Recipient {
	return document.Recipient{ID: r.ID, Email: r.Email, Name: r.Name, External: r.External}
}

type bulkPublishResponse struct {
	ClonedCount int      `json:"clonedCount"`
	FailedCount int      `json:"failedCount"`
	DocumentIDs []string `json:"documentIds"`
}

type valuesResponse struct {
	Values map[string]any `json:"values"`
}

type submitRequest struct {
	Token             string         `json:"token"`
	RecipientIdentity string         `json:"recipientId"`
	FieldValues       map[string]any `json:"fieldValues"`
}

type submitResponse struct {
	CaptureKey string   `json:"captureKey"`
	Completed  bool     `json:"documentCompleted"`
	Warnings   []string `json:"warnings,omitempty"`
}

type completionResponse struct {
	DocumentID          string           `json:"documentId"`
	Title               string           `json:"title"`
	Fields              []document.Field `json:"fields"`
	CurrentRecipient    string           `json:"currentRecipient"`
	External            bool             `json:"isExternal"`
	Token               string           `json:"token"`
	ViewURL             string           `json:"viewUrl,omitempty"`
	Status              string           `json:"status"`
	ConsolidatedData    map[string]any   `json:"consolidatedData"`
	RecipientComplete   bool             `json:"recipientComplete"`
	Credential          string           `json:"credential,omitempty"`
	CredentialExpiresAt string           `json:"credentialExpiresAt,omitempty"`
}

func toCompletionResponse(v completion.View) completionResponse {
	resp := completionResponse{
		DocumentID:        v.DocumentID,
		Title:             v.Title,
		Fields:            v.Fields,
		CurrentRecipient:  v.CurrentRecipient,
		External:          v.External,
		Token:             v.Token,
		ViewURL:           v.ViewURL,
		Status:            string(v.Status),
		ConsolidatedData:  v.ConsolidatedData,
		RecipientComplete: v.RecipientComplete,
	}
	if resp.Fields == nil {
		resp.Fields = []document.Field{}
	}
	if resp.ConsolidatedData == nil {
		resp.ConsolidatedData = map[string]any{}
	}
	return resp
}

type issueCodeRequest struct {
	Email string `json:"email"`
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type verifyCodeResponse struct {
	Valid bool `json:"valid"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
