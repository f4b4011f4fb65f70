package service

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"golang.org/x/text/language"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
)

// TemplateTier selects the tone of a bulletin notification.
type TemplateTier string

const (
	TierExcellent        TemplateTier = "excellent"
	TierStandard         TemplateTier = "standard"
	TierNeedsImprovement TemplateTier = "needs_improvement"
)

// ExcellentAverage is the average from which the congratulatory template is used.
const ExcellentAverage = 16.0

// DefaultLanguage is used when neither the recipient nor the batch names a supported language.
const DefaultLanguage = "fr"

// SelectTemplateTier maps a general average to a template tier. A pending average gets the
// standard template.
func SelectTemplateTier(avg *float64) TemplateTier {
	switch {
	case avg == nil:
		return TierStandard
	case *avg >= ExcellentAverage:
		return TierExcellent
	case *avg >= PassingAverage:
		return TierStandard
	default:
		return TierNeedsImprovement
	}
}

// MessageData feeds the notification templates.
type MessageData struct {
	RecipientName string
	StudentName   string
	SchoolName    string
	Term          string
	AcademicYear  string
	Average       string
	Rank          string
}

// RenderedMessage is the content of one notification in one language.
type RenderedMessage struct {
	Language string
	Tier     TemplateTier
	Subject  string
	Text     string
	HTML     string
}

type languagePack struct {
	subject *texttemplate.Template
	bodies  map[TemplateTier]*texttemplate.Template
	pending string
}

var notificationCopy = map[string]struct {
	subject string
	pending string
	bodies  map[TemplateTier]string
}{
	"fr": {
		subject: "{{.SchoolName}} - Bulletin {{.Term}} {{.AcademicYear}} de {{.StudentName}}",
		pending: "en attente",
		bodies: map[TemplateTier]string{
			TierExcellent:        "Bonjour {{.RecipientName}}, le bulletin {{.Term}} ({{.AcademicYear}}) de {{.StudentName}} est disponible. Félicitations : moyenne générale {{.Average}}/20, rang {{.Rank}}.",
			TierStandard:         "Bonjour {{.RecipientName}}, le bulletin {{.Term}} ({{.AcademicYear}}) de {{.StudentName}} est disponible. Moyenne générale : {{.Average}}, rang {{.Rank}}.",
			TierNeedsImprovement: "Bonjour {{.RecipientName}}, le bulletin {{.Term}} ({{.AcademicYear}}) de {{.StudentName}} est disponible. Moyenne générale : {{.Average}}/20. Un accompagnement est recommandé, merci de contacter l'établissement.",
		},
	},
	"en": {
		subject: "{{.SchoolName}} - {{.StudentName}}'s {{.Term}} {{.AcademicYear}} report card",
		pending: "pending",
		bodies: map[TemplateTier]string{
			TierExcellent:        "Hello {{.RecipientName}}, {{.StudentName}}'s {{.Term}} ({{.AcademicYear}}) report card is available. Congratulations: overall average {{.Average}}/20, rank {{.Rank}}.",
			TierStandard:         "Hello {{.RecipientName}}, {{.StudentName}}'s {{.Term}} ({{.AcademicYear}}) report card is available. Overall average: {{.Average}}, rank {{.Rank}}.",
			TierNeedsImprovement: "Hello {{.RecipientName}}, {{.StudentName}}'s {{.Term}} ({{.AcademicYear}}) report card is available. Overall average: {{.Average}}/20. We recommend additional support, please contact the school.",
		},
	},
}

const emailLayout = `<!DOCTYPE html><html lang="{{.Language}}"><body><p>{{.Text}}</p></body></html>`

// NotificationTemplates renders tiered messages in the supported languages.
type NotificationTemplates struct {
	packs    map[string]languagePack
	codes    []string
	matcher  language.Matcher
	fallback string
	layout   *htmltemplate.Template
}

// NewNotificationTemplates parses the built-in templates. fallback is the batch-level default
// language and must be one of the supported languages, otherwise French is used.
func NewNotificationTemplates(fallback string) (*NotificationTemplates, error) {
	codes := []string{"fr", "en"}
	tags := make([]language.Tag, len(codes))
	packs := make(map[string]languagePack, len(codes))
	for i, code := range codes {
		tags[i] = language.MustParse(code)
		copyDef := notificationCopy[code]
		subject, err := texttemplate.New(code + "_subject").Parse(copyDef.subject)
		if err != nil {
			return nil, fmt.Errorf("parse %s subject template: %w", code, err)
		}
		pack := languagePack{subject: subject, bodies: make(map[TemplateTier]*texttemplate.Template), pending: copyDef.pending}
		for tier, body := range copyDef.bodies {
			tmpl, err := texttemplate.New(code + "_" + string(tier)).Parse(body)
			if err != nil {
				return nil, fmt.Errorf("parse %s %s template: %w", code, tier, err)
			}
			pack.bodies[tier] = tmpl
		}
		packs[code] = pack
	}
	layout, err := htmltemplate.New("email").Parse(emailLayout)
	if err != nil {
		return nil, fmt.Errorf("parse email layout: %w", err)
	}

	t := &NotificationTemplates{packs: packs, codes: codes, matcher: language.NewMatcher(tags), fallback: DefaultLanguage, layout: layout}
	if resolved, ok := t.match(fallback); ok {
		t.fallback = resolved
	}
	return t, nil
}

func (t *NotificationTemplates) match(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", false
	}
	_, index, confidence := t.matcher.Match(tag)
	if confidence == language.No {
		return "", false
	}
	return t.codes[index], true
}

// ResolveLanguage picks the recipient's language, then the batch default, then the
// templates' own fallback.
func (t *NotificationTemplates) ResolveLanguage(preferred, batchDefault string) string {
	if code, ok := t.match(preferred); ok {
		return code
	}
	if code, ok := t.match(batchDefault); ok {
		return code
	}
	return t.fallback
}

// Render builds the message for a bulletin and recipient.
func (t *NotificationTemplates) Render(bulletin *models.Bulletin, studentName, schoolName string, recipient models.NotificationRecipient, batchLanguage string) (RenderedMessage, error) {
	lang := t.ResolveLanguage(recipient.PreferredLanguage, batchLanguage)
	pack := t.packs[lang]
	tier := SelectTemplateTier(bulletin.GeneralAverage)

	data := MessageData{
		RecipientName: recipient.DisplayName,
		StudentName:   studentName,
		SchoolName:    schoolName,
		Term:          string(bulletin.Term),
		AcademicYear:  bulletin.AcademicYear,
		Average:       pack.pending,
		Rank:          "-",
	}
	if bulletin.GeneralAverage != nil {
		data.Average = fmt.Sprintf("%.2f", *bulletin.GeneralAverage)
	}
	if bulletin.ClassRank != nil {
		data.Rank = fmt.Sprintf("%d/%d", *bulletin.ClassRank, bulletin.TotalStudentsInClass)
	}

	var subject, body, html bytes.Buffer
	if err := pack.subject.Execute(&subject, data); err != nil {
		return RenderedMessage{}, fmt.Errorf("render subject: %w", err)
	}
	if err := pack.bodies[tier].Execute(&body, data); err != nil {
		return RenderedMessage{}, fmt.Errorf("render %s body: %w", tier, err)
	}
	if err := t.layout.Execute(&html, struct{ Language, Text string }{lang, body.String()}); err != nil {
		return RenderedMessage{}, fmt.Errorf("render email layout: %w", err)
	}
	return RenderedMessage{Language: lang, Tier: tier, Subject: subject.String(), Text: body.String(), HTML: html.String()}, nil
}
