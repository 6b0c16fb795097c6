// Package validator checks posted activities before they are published.
// It reports every failing field at once.
package validator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lmco/activitysearch/internal/ingestion"
)

const (
	maxContentLength = 65536
	maxAuthorLength  = 255
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func ValidatePostRequest(req *ingestion.PostRequest) error {
	errs := make(map[string]string)

	if req.ID <= 0 {
		errs["id"] = "id must be positive"
	}
	if req.StreamID <= 0 {
		errs["stream_id"] = "stream_id must be positive"
	}
	if !validRecipient(req.Recipient) {
		errs["recipient"] = "recipient must be p<id> or g<id>"
	}
	if req.RecipientParentOrgID < 0 {
		errs["recipient_parent_org_id"] = "recipient_parent_org_id must not be negative"
	}
	author := strings.TrimSpace(req.Author)
	if author == "" {
		errs["author"] = "author is required"
	} else if len(author) > maxAuthorLength {
		errs["author"] = fmt.Sprintf("author must be at most %d characters", maxAuthorLength)
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		errs["content"] = "content is required"
	} else if len(content) > maxContentLength {
		errs["content"] = fmt.Sprintf("content must be at most %d characters", maxContentLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// validRecipient accepts the index's recipient encoding: a person (p) or
// group (g) prefix followed by a positive numeric id.
func validRecipient(r string) bool {
	if len(r) < 2 || (r[0] != 'p' && r[0] != 'g') {
		return false
	}
	id, err := strconv.ParseInt(r[1:], 10, 64)
	return err == nil && id > 0
}
