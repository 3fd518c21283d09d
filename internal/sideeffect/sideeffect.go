// Package sideeffect implements C5, the idempotent ensure-user /
// ensure-custom-gpt / ensure-thread / insert-message chain the dispatcher
// runs after a successful inference.
//
// Grounded on original_source/inference/src/database/service.py's
// create_user_if_not_exists / create_custom_gpt_if_not_exists /
// create_thread_if_not_exists / create_assistant_message chain, adapted onto
// the Store's UpsertXIfAbsent methods (internal/adapter/repo/postgres/entities_repo.go).
package sideeffect

import (
	"fmt"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
	"github.com/baker-compliant-ai/bakerbroker/internal/observability"
)

const titleMaxLen = 60

// Writer is the concrete domain.SideEffectWriter.
type Writer struct {
	store domain.Store
}

// New constructs a Writer over the given Store.
func New(store domain.Store) *Writer {
	return &Writer{store: store}
}

var _ domain.SideEffectWriter = (*Writer)(nil)

// Write runs the four-step chain in order. Failures in steps 1-3 are
// logged as warnings and the chain continues — the assistant message is
// still attempted even when its prerequisites could not be confirmed.
// Only a step-4 failure is returned, wrapped in domain.ErrSideEffect, since
// that is the one write whose loss is worth surfacing to the dispatcher.
func (w *Writer) Write(ctx domain.Context, in domain.SideEffectInput) error {
	log := observability.LoggerFromContext(ctx)

	if _, err := w.store.UpsertUserIfAbsent(ctx, domain.User{
		ID:   in.UserID,
		Name: fmt.Sprintf("User %s", in.UserID),
		Role: "financial_advisor",
	}); err != nil {
		log.Warn("side effect: ensure user failed, continuing", "user_id", in.UserID, "error", err)
		w.audit(ctx, "ensure_user", in, domain.ComplianceStatusCompliant, "error: "+err.Error())
	} else {
		w.audit(ctx, "ensure_user", in, domain.ComplianceStatusCompliant, "ok")
	}

	if _, err := w.store.UpsertCustomGPTIfAbsent(ctx, domain.CustomGPT{
		ID:             in.CustomGPTID,
		Name:           fmt.Sprintf("Custom GPT %s", in.CustomGPTID),
		Specialization: in.Specialization,
	}); err != nil {
		log.Warn("side effect: ensure custom gpt failed, continuing", "custom_gpt_id", in.CustomGPTID, "error", err)
		w.audit(ctx, "ensure_custom_gpt", in, domain.ComplianceStatusCompliant, "error: "+err.Error())
	} else {
		w.audit(ctx, "ensure_custom_gpt", in, domain.ComplianceStatusCompliant, "ok")
	}

	if _, err := w.store.UpsertThreadIfAbsent(ctx, domain.Thread{
		ID:          in.ThreadID,
		UserID:      in.UserID,
		CustomGPTID: in.CustomGPTID,
		Title:       threadTitle(in.UserMessage),
	}); err != nil {
		log.Warn("side effect: ensure thread failed, continuing", "thread_id", in.ThreadID, "error", err)
		w.audit(ctx, "ensure_thread", in, domain.ComplianceStatusCompliant, "error: "+err.Error())
	} else {
		w.audit(ctx, "ensure_thread", in, domain.ComplianceStatusCompliant, "ok")
	}

	messageStatus := domain.ComplianceStatusCompliant
	if !in.Metadata.SecCompliant {
		messageStatus = domain.ComplianceStatusNonCompliant
	} else if in.Metadata.HumanReviewRequired {
		messageStatus = domain.ComplianceStatusReviewRequired
	}

	if _, err := w.store.InsertMessage(ctx, domain.Message{
		ThreadID:         in.ThreadID,
		Role:             domain.MessageRoleAssistant,
		Content:          in.AssistantContent,
		ModelUsed:        in.Metadata.ModelUsed,
		ProcessingTimeMS: in.Metadata.ProcessingTimeMS,
		ComplianceFlags:  in.Metadata.ComplianceFlags,
		SecCompliant:     in.Metadata.SecCompliant,
	}); err != nil {
		w.audit(ctx, "insert_message", in, messageStatus, "error: "+err.Error())
		return fmt.Errorf("op=sideeffect.Write: %w: %v", domain.ErrSideEffect, err)
	}
	w.audit(ctx, "insert_message", in, messageStatus, "ok")

	return nil
}

// audit best-effort records one compliance-audit-stream row per step
// (spec.md §6); a failure here is logged but never turns a side-effect
// step that otherwise succeeded into an error. status is the compliance
// verdict (COMPLIANT/NON_COMPLIANT/REVIEW_REQUIRED); operational outcome
// (ok/error) belongs in details, not status.
func (w *Writer) audit(ctx domain.Context, action string, in domain.SideEffectInput, status domain.ComplianceStatus, details string) {
	if err := w.store.RecordAudit(ctx, action, in.UserID, in.ThreadID, status, details); err != nil {
		observability.LoggerFromContext(ctx).Warn("audit record failed", "action", action, "thread_id", in.ThreadID, "error", err)
	}
}

// threadTitle derives a thread title from the first 60 characters of the
// user's opening message, ellipsized when truncated.
func threadTitle(message string) string {
	r := []rune(message)
	if len(r) <= titleMaxLen {
		return message
	}
	return string(r[:titleMaxLen]) + "…"
}
