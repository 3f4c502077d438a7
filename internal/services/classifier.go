package services

import (
	"regexp"
	"strings"

	"github.com/gpresearch2025/ai-voice-agent/internal/models"
)

// Markers the model is told to lead a transfer reply with
const (
	MarkerSales   = "[TRANSFER_SALES]"
	MarkerSupport = "[TRANSFER_SUPPORT]"
)

// ClassificationSource records which signal produced a verdict
type ClassificationSource string

const (
	SourceNone         ClassificationSource = "none"
	SourceMarker       ClassificationSource = "marker"
	SourceReplyPhrase  ClassificationSource = "reply_phrase"
	SourceCallerPhrase ClassificationSource = "caller_phrase"
)

// Classification is the transfer verdict for one exchange
type Classification struct {
	Department models.Department
	Reply      string // model output with any marker removed
	Source     ClassificationSource
}

// Transfer reports whether a department was detected
func (c Classification) Transfer() bool {
	return c.Department != models.DepartmentNone
}

var (
	salesPhrases = regexp.MustCompile(`(?i)\b(` +
		`(transfer|connect|put) you (through )?(to|with) (our |a |the )?sales|` +
		`(talk|speak) (to|with) (a |an )?(real )?(person|human|agent|representative|someone|somebody) about (pricing|prices|a quote|plans|buying)|` +
		`(get|want|need) a (price )?quote|` +
		`(schedule|book|want|get) a demo` +
		`)\b`)

	supportPhrases = regexp.MustCompile(`(?i)\b(` +
		`(transfer|connect|put) you (through )?(to|with) (our |a |the )?(technical |tech |customer )?support|` +
		`billing (issue|problem|question|error)|` +
		`existing customer support|customer support|tech(nical)? support|` +
		`(problem|issue|trouble) with my (account|order|service|bill)` +
		`)\b`)

	// genericTransfer matches a transfer announcement that names no department
	genericTransfer = regexp.MustCompile(`(?i)\b(let me (transfer|connect|put you through)|transfer you|connect you with (a|an) (representative|agent|person|human))\b`)
)

// Classify decides whether an exchange should be routed to a department.
// A leading marker in modelOutput wins outright and is stripped from the reply.
// Otherwise phrase patterns are tried on modelOutput, then on callerText; matches
// for both departments resolve to sales. A bare transfer announcement with no
// department in the model output also resolves to sales.
func Classify(modelOutput, callerText string) Classification {
	trimmed := strings.TrimSpace(modelOutput)

	if dept, rest, ok := stripMarker(trimmed); ok {
		return Classification{Department: dept, Reply: rest, Source: SourceMarker}
	}

	result := Classification{Reply: trimmed, Source: SourceNone}
	if dept := matchPhrases(trimmed); dept != models.DepartmentNone {
		result.Department, result.Source = dept, SourceReplyPhrase
		return result
	}
	if genericTransfer.MatchString(trimmed) {
		result.Department, result.Source = models.DepartmentSales, SourceReplyPhrase
		return result
	}
	if dept := matchPhrases(callerText); dept != models.DepartmentNone {
		result.Department, result.Source = dept, SourceCallerPhrase
	}
	return result
}

func stripMarker(s string) (models.Department, string, bool) {
	upper := strings.ToUpper(s)
	switch {
	case strings.HasPrefix(upper, MarkerSales):
		return models.DepartmentSales, strings.TrimSpace(s[len(MarkerSales):]), true
	case strings.HasPrefix(upper, MarkerSupport):
		return models.DepartmentSupport, strings.TrimSpace(s[len(MarkerSupport):]), true
	}
	return models.DepartmentNone, s, false
}

func matchPhrases(text string) models.Department {
	if strings.TrimSpace(text) == "" {
		return models.DepartmentNone
	}
	sales := salesPhrases.MatchString(text)
	support := supportPhrases.MatchString(text)
	switch {
	case sales:
		return models.DepartmentSales
	case support:
		return models.DepartmentSupport
	}
	return models.DepartmentNone
}

// StripMarkers removes any transfer marker anywhere in text. Used before speaking
// a reply whose marker was not in the leading position.
func StripMarkers(text string) string {
	replacer := strings.NewReplacer(MarkerSales, "", MarkerSupport, "")
	return strings.TrimSpace(strings.Join(strings.Fields(replacer.Replace(text)), " "))
}
