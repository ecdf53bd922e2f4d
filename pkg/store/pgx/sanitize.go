package pgx

import (
	"strings"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
)

// sanitizeText drops invalid UTF-8 and NUL bytes, which jsonb rejects.
func sanitizeText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

func sanitizeNode(n common.Node) common.Node {
	n.Title = sanitizeText(n.Title)
	n.Type = sanitizeText(n.Type)
	n.Description = sanitizeText(n.Description)
	n.DocumentID = sanitizeText(n.DocumentID)
	return n
}

func sanitizeEdge(e common.Edge) common.Edge {
	e.Description = sanitizeText(e.Description)
	e.DocumentID = sanitizeText(e.DocumentID)
	return e
}

func sanitizeCommunity(c common.Community) common.Community {
	c.Summary = sanitizeText(c.Summary)
	c.DocumentID = sanitizeText(c.DocumentID)
	c.RatingExplanation = sanitizeText(c.RatingExplanation)
	if len(c.Findings) > 0 {
		findings := make([]common.Finding, len(c.Findings))
		for i, f := range c.Findings {
			findings[i] = common.Finding{
				Summary:     sanitizeText(f.Summary),
				Explanation: sanitizeText(f.Explanation),
			}
		}
		c.Findings = findings
	}
	return c
}
