package app

import (
	"lexdesk/internal/store"
)

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":     session.Token,
		"userId":    session.UserID,
		"userName":  session.UserName,
		"role":      session.Subject().Role,
		"expiresAt": session.ExpiresAt,
	}
}

func documentSummaryPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":            doc.ID,
		"title":         doc.Title,
		"versionNumber": doc.VersionNumber,
		"isLocked":      doc.IsLocked,
		"lockedBy":      doc.LockedBy,
		"ownerId":       doc.OwnerID,
		"lastEditedAt":  doc.LastEditedAt,
		"lastEditedBy":  doc.LastEditedBy,
		"updatedAt":     doc.UpdatedAt,
	}
}

func documentPayload(doc store.Document) map[string]any {
	payload := documentSummaryPayload(doc)
	payload["content"] = doc.Content
	payload["contentRendered"] = doc.ContentRendered
	payload["lockedAt"] = doc.LockedAt
	payload["metadata"] = doc.Metadata
	payload["creatorId"] = doc.CreatorID
	payload["templateId"] = doc.TemplateID
	payload["createdAt"] = doc.CreatedAt
	return payload
}

func versionPayload(v store.VersionSnapshot) map[string]any {
	return map[string]any{
		"id":             v.ID,
		"versionNumber":  v.VersionNumber,
		"changesSummary": v.ChangesSummary,
		"addedContent":   v.AddedContent,
		"removedContent": v.RemovedContent,
		"createdBy":      v.CreatedBy,
		"createdAt":      v.CreatedAt,
	}
}

func commentPayload(c store.Comment) map[string]any {
	return map[string]any{
		"id":              c.ID,
		"documentId":      c.DocumentID,
		"content":         c.Content,
		"authorId":        c.AuthorID,
		"authorName":      c.AuthorName,
		"positionStart":   c.PositionStart,
		"positionEnd":     c.PositionEnd,
		"selectedText":    c.SelectedText,
		"parentCommentId": c.ParentCommentID,
		"isResolved":      c.IsResolved,
		"resolvedBy":      c.ResolvedBy,
		"resolvedAt":      c.ResolvedAt,
		"createdAt":       c.CreatedAt,
	}
}

func templatePayload(view TemplateView) map[string]any {
	return map[string]any{
		"id":          view.Template.ID,
		"name":        view.Template.Name,
		"description": view.Template.Description,
		"category":    view.Template.Category,
		"content":     view.Template.Content,
		"variables":   view.Variables,
		"createdBy":   view.Template.CreatedBy,
		"createdAt":   view.Template.CreatedAt,
	}
}
