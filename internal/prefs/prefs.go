// Package prefs resolves raw, source-specific rendering hints into a single
// canonical Preferences value. Resolution is a pure function of its input:
// identical input always yields identical preferences, regardless of which
// intake channel supplied it.
//
// Three extraction strategies exist, one per source:
//   - API callers send an explicit structured preferences object.
//   - Email senders are scanned for keywords in the lowered body text.
//   - Chat channels get fixed defaults tuned to what the channel can render.
package prefs

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
)

// Format identifies one rendered output format.
type Format string

// Supported output formats.
const (
	FormatPDF      Format = "pdf"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatDOCX     Format = "docx"
)

// AllFormats lists every renderable format, in presentation order.
var AllFormats = []Format{FormatPDF, FormatHTML, FormatMarkdown, FormatJSON, FormatDOCX}

// ParseFormat maps a raw string to a known Format. Comparison is
// case-insensitive; unknown values report ok=false.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatPDF:
		return FormatPDF, true
	case FormatHTML:
		return FormatHTML, true
	case FormatMarkdown, "md":
		return FormatMarkdown, true
	case FormatJSON:
		return FormatJSON, true
	case FormatDOCX, "doc", "word":
		return FormatDOCX, true
	}
	return "", false
}

// Quality selects the analysis/rendering tier.
type Quality string

// Quality tiers, in ascending order of enabled enhancements.
const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualityPremium  Quality = "premium"
)

// ParseQuality maps a raw string to a known Quality; unknown values report
// ok=false so callers can fall back to the field default.
func ParseQuality(s string) (Quality, bool) {
	switch Quality(strings.ToLower(strings.TrimSpace(s))) {
	case QualityStandard:
		return QualityStandard, true
	case QualityHigh:
		return QualityHigh, true
	case QualityPremium:
		return QualityPremium, true
	}
	return "", false
}

// Preferences is the canonical, resolved rendering configuration attached to
// every request record. The zero value is not meaningful; use Defaults or one
// of the From* resolvers.
type Preferences struct {
	Formats     []Format `json:"formats"`
	Quality     Quality  `json:"quality"`
	Charts      bool     `json:"charts"`
	Interactive bool     `json:"interactive"`
}

// Defaults returns the baseline preferences applied when a source supplies no
// usable hints: a PDF report at standard quality with no enhancements.
func Defaults() Preferences {
	return Preferences{
		Formats: []Format{FormatPDF},
		Quality: QualityStandard,
	}
}

// Value implements driver.Valuer so Preferences can persist as a JSON text
// column without a schema migration per field.
func (p Preferences) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for the JSON text column written by Value.
func (p *Preferences) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = Defaults()
		return nil
	case string:
		return json.Unmarshal([]byte(v), p)
	case []byte:
		return json.Unmarshal(v, p)
	}
	return errors.New("prefs: unsupported scan source")
}

// APIInput is the explicit preferences object accepted on the upload request
// body. Pointer fields distinguish "absent" from zero values; unrecognized
// JSON keys are ignored by decoding, and invalid values fall back to the
// per-field default rather than failing the upload.
type APIInput struct {
	Formats     []string `json:"formats"`
	Quality     *string  `json:"quality"`
	Charts      *bool    `json:"include_charts"`
	Interactive *bool    `json:"interactive"`
}

// FromAPI resolves an explicit API preferences object. A nil input yields
// Defaults. Unknown format names and quality tiers are dropped per field.
func FromAPI(in *APIInput) Preferences {
	p := Defaults()
	if in == nil {
		return p
	}
	if len(in.Formats) > 0 {
		var formats []Format
		for _, raw := range in.Formats {
			if f, ok := ParseFormat(raw); ok && !containsFormat(formats, f) {
				formats = append(formats, f)
			}
		}
		if len(formats) > 0 {
			p.Formats = formats
		}
	}
	if in.Quality != nil {
		if q, ok := ParseQuality(*in.Quality); ok {
			p.Quality = q
		}
	}
	if in.Charts != nil {
		p.Charts = *in.Charts
	}
	if in.Interactive != nil {
		p.Interactive = *in.Interactive
	}
	return p
}

// emailRule is one keyword→outcome mapping. Rules are evaluated in slice
// order within a category and the first match wins; later rules in the same
// category are not consulted.
type emailRule struct {
	keywords []string
	apply    func(*Preferences)
}

// Email scan rules per category. Order matters: negations precede the
// positive forms they would otherwise shadow (e.g. "no charts" vs "charts").
var (
	emailFormatRules = []emailRule{
		{[]string{"as pdf", "pdf format", "pdf"}, func(p *Preferences) { p.Formats = []Format{FormatPDF} }},
		{[]string{"as html", "web page", "html"}, func(p *Preferences) { p.Formats = []Format{FormatHTML} }},
		{[]string{"markdown", " md "}, func(p *Preferences) { p.Formats = []Format{FormatMarkdown} }},
		{[]string{"word document", "docx", "word"}, func(p *Preferences) { p.Formats = []Format{FormatDOCX} }},
		{[]string{"json"}, func(p *Preferences) { p.Formats = []Format{FormatJSON} }},
	}
	emailQualityRules = []emailRule{
		{[]string{"premium", "executive"}, func(p *Preferences) { p.Quality = QualityPremium }},
		{[]string{"high quality", "detailed", "thorough", "in-depth"}, func(p *Preferences) { p.Quality = QualityHigh }},
		{[]string{"quick", "brief", "summary only"}, func(p *Preferences) { p.Quality = QualityStandard }},
	}
	emailChartRules = []emailRule{
		{[]string{"no charts", "without charts", "no graphs"}, func(p *Preferences) { p.Charts = false }},
		{[]string{"charts", "graphs", "visualizations", "diagrams"}, func(p *Preferences) { p.Charts = true }},
	}
	emailInteractiveRules = []emailRule{
		{[]string{"not interactive", "static"}, func(p *Preferences) { p.Interactive = false }},
		{[]string{"interactive", "clickable", "explorable"}, func(p *Preferences) { p.Interactive = true }},
	}
)

// FromEmail resolves preferences from a free-text email body. The body is
// lowered once, then each rule category is scanned in fixed order; the first
// matching rule per category wins and unmatched categories keep their default.
func FromEmail(body string) Preferences {
	p := Defaults()
	lowered := strings.ToLower(body)
	for _, cat := range [][]emailRule{
		emailFormatRules,
		emailQualityRules,
		emailChartRules,
		emailInteractiveRules,
	} {
		for _, rule := range cat {
			if matchesAny(lowered, rule.keywords) {
				rule.apply(&p)
				break
			}
		}
	}
	return p
}

// ChatDefaults returns the fixed preferences for chat-initiated requests.
// Chat channels render plain text, so interactive output is never enabled
// and markdown is the only requested user-facing format.
func ChatDefaults() Preferences {
	return Preferences{
		Formats: []Format{FormatMarkdown},
		Quality: QualityStandard,
	}
}

// FeatureBundle is the per-request set of enhancement switches consumed by
// the analysis and render stages.
type FeatureBundle struct {
	DetailedAnalysis bool
	Charts           bool
	Interactive      bool
}

// Apply maps the quality tier to a feature bundle:
//   - premium enables every enhancement unconditionally;
//   - high enables detailed analysis and gates charts/interactivity on the
//     explicit flags;
//   - standard gates charts/interactivity on the explicit flags and leaves
//     detailed analysis off.
func Apply(p Preferences) FeatureBundle {
	switch p.Quality {
	case QualityPremium:
		return FeatureBundle{DetailedAnalysis: true, Charts: true, Interactive: true}
	case QualityHigh:
		return FeatureBundle{DetailedAnalysis: true, Charts: p.Charts, Interactive: p.Interactive}
	default:
		return FeatureBundle{Charts: p.Charts, Interactive: p.Interactive}
	}
}

// FilterOutputs returns the formats the render stage must produce for the
// given request. User-facing filtering never removes the machine-readable
// JSON artifact; the status/history API depends on it being present.
func FilterOutputs(requested []Format) []Format {
	out := make([]Format, 0, len(requested)+1)
	for _, f := range requested {
		if !containsFormat(out, f) {
			out = append(out, f)
		}
	}
	if !containsFormat(out, FormatJSON) {
		out = append(out, FormatJSON)
	}
	return out
}

func containsFormat(fs []Format, f Format) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}

func matchesAny(lowered string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}
