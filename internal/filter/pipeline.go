// Package filter selects captured events for inspection.
package filter

import (
	"regexp"

	"github.com/vburojevic/beacon/internal/domain"
)

// Pipeline combines an event-name pattern, exclude patterns and where
// clauses. A nil Pipeline matches everything.
type Pipeline struct {
	pattern  *regexp.Regexp
	excludes []*regexp.Regexp
	where    *WhereFilter
}

// NewPipeline returns nil when no filter is given
func NewPipeline(pattern *regexp.Regexp, excludes []*regexp.Regexp, where *WhereFilter) *Pipeline {
	if pattern == nil && len(excludes) == 0 && where == nil {
		return nil
	}
	return &Pipeline{pattern: pattern, excludes: excludes, where: where}
}

// Match reports whether ev passes every stage
func (p *Pipeline) Match(ev *domain.Event) bool {
	if p == nil {
		return true
	}
	if p.pattern != nil && !p.pattern.MatchString(ev.EventName) {
		return false
	}
	for _, ex := range p.excludes {
		if ex.MatchString(ev.EventName) {
			return false
		}
	}
	if p.where != nil && !p.where.Match(ev) {
		return false
	}
	return true
}
