// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"time"
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// RequestStatus captures the lifecycle state of a queued inference request.
type RequestStatus string

// Request status values.
const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
)

// ComplianceStatus is the compliance_audit_log verdict enum (spec.md §6).
// It is distinct from RequestStatus: a row's compliance_status answers
// "was this step's output compliant", not "did this step succeed".
type ComplianceStatus string

const (
	ComplianceStatusCompliant      ComplianceStatus = "COMPLIANT"
	ComplianceStatusNonCompliant   ComplianceStatus = "NON_COMPLIANT"
	ComplianceStatusReviewRequired ComplianceStatus = "REVIEW_REQUIRED"
)

// RequestType enumerates the kinds of work a queue row can carry.
// Only "chat" has a concrete adapter; the others are declared so the store
// and queue layers never special-case an unknown discriminator, but the
// dispatcher fails them fast with ErrUnsupportedRequestType.
type RequestType string

const (
	RequestTypeChat                 RequestType = "chat"
	RequestTypeMeetingTranscription RequestType = "meeting_transcription"
	RequestTypeDocumentAnalysis     RequestType = "document_analysis"
	RequestTypeComplianceCheck      RequestType = "compliance_check"
)

// Specialization enumerates the custom GPT specializations the adapter
// knows a prompt template for; "general" is the fallback for anything else.
type Specialization string

const (
	SpecializationCRM        Specialization = "crm"
	SpecializationPortfolio  Specialization = "portfolio"
	SpecializationCompliance Specialization = "compliance"
	SpecializationGeneral    Specialization = "general"
	SpecializationRetirement Specialization = "retirement"
	SpecializationTax        Specialization = "tax"
)

// ChatInput is the only populated InputData variant. MeetingTranscription,
// DocumentAnalysis and ComplianceCheck are declared as placeholder types
// implementing InputData so the schema is forward-compatible; the
// dispatcher rejects them with ErrUnsupportedRequestType at claim time.
type ChatInput struct {
	Message         string       `json:"message"`
	ContextMessages []string     `json:"context_messages,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

func (ChatInput) requestType() RequestType { return RequestTypeChat }

// Attachment is metadata-only: the adapter and store never see attachment
// content itself, only what spec.md §6's input_data.attachments shape
// carries. Dereferencing the URL to fetch content is an out-of-scope
// collaborator's job (see DESIGN.md's Tika note).
type Attachment struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Size       int64     `json:"size"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// InputData is the sum-type interface for the queue row's input_data column.
type InputData interface {
	requestType() RequestType
}

// MeetingTranscriptionInput is an unimplemented placeholder variant.
type MeetingTranscriptionInput struct{}

func (MeetingTranscriptionInput) requestType() RequestType { return RequestTypeMeetingTranscription }

// DocumentAnalysisInput is an unimplemented placeholder variant.
type DocumentAnalysisInput struct{}

func (DocumentAnalysisInput) requestType() RequestType { return RequestTypeDocumentAnalysis }

// ComplianceCheckInput is an unimplemented placeholder variant.
type ComplianceCheckInput struct{}

func (ComplianceCheckInput) requestType() RequestType { return RequestTypeComplianceCheck }

// ToolInteraction records a synthetic tool call the adapter attributes to a
// response when the custom GPT's ToolsEnabled names a known integration.
type ToolInteraction struct {
	Tool    string `json:"tool"`
	Outcome string `json:"outcome"`
}

// ResponseMetadata is the typed shape stored in the queue row's
// response_metadata column on successful completion. Field set mirrors
// spec.md §6's response_metadata minimum: model_used, processing_time_ms,
// confidence_score, input_tokens, output_tokens, compliance_flags,
// sec_compliant, human_review_required, tool_interactions.
type ResponseMetadata struct {
	ModelUsed            string            `json:"model_used"`
	ProcessingTimeMS     int64             `json:"processing_time_ms"`
	Confidence           float64           `json:"confidence"`
	HumanReviewRequired  bool              `json:"human_review_required"`
	SecCompliant         bool              `json:"sec_compliant"`
	ComplianceFlags      []string          `json:"compliance_flags,omitempty"`
	InputTokens          int               `json:"input_tokens"`
	OutputTokens         int               `json:"output_tokens"`
	ToolInteractions     []ToolInteraction `json:"tool_interactions,omitempty"`
}

// Request is the domain model for a queued inference request (C1/C2's
// unit of work). It is the in-memory projection of one inference_queue row.
type Request struct {
	ID               string
	UserID           string
	CustomGPTID      string
	ThreadID         string
	RequestType      RequestType
	InputData        InputData
	Priority         int
	Status           RequestStatus
	RetryCount       int
	ResponseContent  string
	ResponseMetadata *ResponseMetadata
	ErrorMessage     string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// User is the domain model for an advisor/operator identity. Authentication
// itself is an out-of-scope external collaborator; the store only persists
// the identity record a request references.
type User struct {
	ID        string
	AzureID   string
	Name      string
	Role      string
	CreatedAt time.Time
}

// CustomGPT is a configured assistant persona a request is addressed to.
type CustomGPT struct {
	ID             string
	Name           string
	Specialization Specialization
	SystemPrompt   string
	ToolsEnabled   []string
	CreatedAt      time.Time
}

// Thread is a conversation a sequence of messages belongs to.
type Thread struct {
	ID        string
	UserID    string
	CustomGPTID string
	Title     string
	CreatedAt time.Time
}

// MessageRole distinguishes who produced a Message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is one turn in a Thread. The compliance fields are only ever
// populated on assistant turns — a user's own message carries no model
// verdict about itself (spec.md §3).
type Message struct {
	ID               string
	ThreadID         string
	Role             MessageRole
	Content          string
	ModelUsed        string
	ProcessingTimeMS int64
	ComplianceFlags  []string
	SecCompliant     bool
	CreatedAt        time.Time
}

// QueueStats is the aggregate snapshot returned by GetStats, cached for up
// to 30 seconds by the broker.
type QueueStats struct {
	Pending              int
	Processing           int
	Completed            int
	Failed               int
	AverageCompletionMS  float64
	AsOf                 time.Time
}

// QueueHealth classifies the broker's current load, supplementing the
// distilled spec with a feature present in the original Python service.
type QueueHealth string

const (
	HealthIdle     QueueHealth = "idle"
	HealthActive   QueueHealth = "active"
	HealthWarning  QueueHealth = "warning"
	HealthCritical QueueHealth = "critical"
)
