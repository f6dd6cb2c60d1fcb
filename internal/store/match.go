package store

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

// fold returns the caseless form of s. A Caser is stateful, so one is built per call.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// matcher applies the secondary (non-time) filters after the range scan
type matcher struct {
	sport   string
	keyword string
}

func newMatcher(f contracts.Filter) matcher {
	return matcher{
		sport:   fold(f.Sport),
		keyword: fold(f.Keyword),
	}
}

func (m matcher) match(e *models.Event) bool {
	if m.sport != "" && fold(e.Sport) != m.sport {
		return false
	}
	if m.keyword == "" {
		return true
	}
	return strings.Contains(fold(e.Metadata.HomeTeam), m.keyword) ||
		strings.Contains(fold(e.Metadata.AwayTeam), m.keyword) ||
		strings.Contains(fold(e.Metadata.CompetitionName), m.keyword)
}
