// Package fields holds the static catalog of decision-relevant listing fields
// and the matcher that detects them in free text.
package fields

import (
	"regexp"
	"sort"
	"strings"

	"listingintel/internal/domain"
)

const (
	Hours        = "hours"
	Year         = "year"
	Condition    = "condition"
	TitleStatus  = "title_status"
	Maintenance  = "maintenance"
	Location     = "location"
	Trailer      = "trailer"
	PriceHistory = "price_history"
)

// Field pairs a requirement with its compiled pattern.
type Field struct {
	domain.FieldRequirement
	re *regexp.Regexp
}

// Catalog is an immutable, ordered set of fields.
type Catalog struct {
	fields []Field
	byTag  map[string]int
}

var defaultRequirements = []domain.FieldRequirement{
	{
		Tag:         Hours,
		Label:       "engine hours",
		Criticality: domain.Critical,
		Pattern:     `\b\d{1,5}(?:\.\d+)?\s*(?:hours|hour|hrs|hr)\b`,
		Question:    "How many hours are on the engine?",
	},
	{
		Tag:         Year,
		Label:       "model year",
		Criticality: domain.Critical,
		Pattern:     `\b(?:19|20)\d{2}\b`,
		Question:    "What year is it?",
	},
	{
		Tag:         Condition,
		Label:       "condition",
		Criticality: domain.Critical,
		Pattern:     `\b(?:excellent|good|fair|poor|mint|clean|like new|runs (?:great|good|strong|perfect|well)|well maintained|needs work|project|rebuilt|condition)\b`,
		Question:    "How would you describe the overall condition? Any known issues?",
	},
	{
		Tag:         TitleStatus,
		Label:       "title status",
		Criticality: domain.Critical,
		Pattern:     `\b(?:clean|clear|salvage|rebuilt|lost|missing|branded|lien|no)\s+title\b|\btitle\s+(?:in hand|is clean|is clear|clean|clear|salvage|lost|missing)\b`,
		Question:    "Do you have a clean title in hand?",
	},
	{
		Tag:         Maintenance,
		Label:       "maintenance history",
		Criticality: domain.Optional,
		Pattern:     `\b(?:maintenance|maintained|serviced|service records?|oil change[sd]?|new (?:battery|impeller|wear ring|plugs|pump)|winterized|tune[- ]?up)\b`,
		Question:    "What maintenance has been done recently? Are there service records?",
	},
	{
		Tag:         Location,
		Label:       "location",
		Criticality: domain.Optional,
		Pattern:     `\b(?:located|location|pick ?up in|pickup (?:in|near)|miles from)\b`,
		Question:    "Where is it located for pickup?",
	},
	{
		Tag:         Trailer,
		Label:       "trailer",
		Criticality: domain.Optional,
		Pattern:     `\btrailers?\b`,
		Question:    "Is a trailer included in the sale?",
	},
	{
		// No question entry: the generic fallback applies.
		Tag:         PriceHistory,
		Label:       "price history",
		Criticality: domain.Optional,
		Pattern:     `\b(?:price (?:drop(?:ped)?|reduced|lowered|cut)|reduced (?:from|to)|was \$?\d[\d,]*|originally \$?\d[\d,]*|just reduced)`,
	},
}

var defaultCatalog = MustNewCatalog(defaultRequirements)

// Default returns the built-in catalog shared by the process.
func Default() *Catalog {
	return defaultCatalog
}

// NewCatalog compiles requirements in the given order. Tags must be unique.
func NewCatalog(reqs []domain.FieldRequirement) (*Catalog, error) {
	c := &Catalog{byTag: make(map[string]int, len(reqs))}
	for _, req := range reqs {
		if req.Tag == "" {
			return nil, errEmptyTag
		}
		if _, dup := c.byTag[req.Tag]; dup {
			return nil, duplicateTagError(req.Tag)
		}
		re, err := regexp.Compile(req.Pattern)
		if err != nil {
			return nil, patternError(req.Tag, err)
		}
		if req.Criticality == "" {
			req.Criticality = domain.Optional
		}
		c.byTag[req.Tag] = len(c.fields)
		c.fields = append(c.fields, Field{FieldRequirement: req, re: re})
	}
	return c, nil
}

func MustNewCatalog(reqs []domain.FieldRequirement) *Catalog {
	c, err := NewCatalog(reqs)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Len() int { return len(c.fields) }

// Fields returns the catalog entries in order.
func (c *Catalog) Fields() []Field {
	out := make([]Field, len(c.fields))
	copy(out, c.fields)
	return out
}

func (c *Catalog) Lookup(tag string) (Field, bool) {
	i, ok := c.byTag[tag]
	if !ok {
		return Field{}, false
	}
	return c.fields[i], true
}

// Set is the collection of tags found in a piece of content.
type Set map[string]struct{}

func (s Set) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Tags returns the set members sorted.
func (s Set) Tags() []string {
	out := make([]string, 0, len(s))
	for tag := range s {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Match reports which catalog fields appear in content. Matching is case-insensitive.
func (c *Catalog) Match(content string) Set {
	normalized := strings.ToLower(content)
	present := make(Set, len(c.fields))
	for _, f := range c.fields {
		if f.re.MatchString(normalized) {
			present[f.Tag] = struct{}{}
		}
	}
	return present
}

// Content builds the matcher input for a listing.
func Content(l domain.ListingRecord) string {
	parts := []string{l.Title, l.Description}
	for _, extra := range []string{l.Hours, l.Year, l.Condition, l.Maintenance, l.Location, l.Trailer, l.TitleStatus, l.PriceHistoryHint} {
		if strings.TrimSpace(extra) != "" {
			parts = append(parts, extra)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}
