package events

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

func actorPrefix(a *Actor) string {
	name := a.Name
	if name == "" {
		name = a.Email
	}
	return fmt.Sprintf("<abbr title='%s'>%s</abbr>", html.EscapeString(a.Email), html.EscapeString(name))
}

func quoted(value string) string {
	return "« " + html.EscapeString(value) + " »"
}

// userAction renders "<actor> <action>".
func userAction(action string) func(Event) string {
	return func(e Event) string {
		if e.Actor == nil {
			return "Modification automatique : " + action
		}
		return actorPrefix(e.Actor) + " " + action
	}
}

// serviceAction renders changes made upstream by the chamber services.
func serviceAction(format string) func(Event) string {
	return func(e Event) string {
		return fmt.Sprintf(format, deQui(e.Meta[MetaChambre]))
	}
}

func deQui(chambre string) string {
	if chambre == "an" {
		return "de l’Assemblée nationale"
	}
	return "du Sénat"
}

func summarizeAvis(e Event) string {
	oldValue, newValue := Values(e.Payload)
	if e.Actor == nil {
		return "L’avis a été mis à " + quoted(newValue) + "."
	}
	if oldValue == "" {
		return actorPrefix(e.Actor) + " a mis l’avis à " + quoted(newValue) + "."
	}
	return actorPrefix(e.Actor) + " a modifié l’avis de " + quoted(oldValue) + " à " + quoted(newValue) + "."
}

// summarizeTransfer phrases a transfer relative to the actor: their own
// table is "sa table" and is not repeated as the origin.
func summarizeTransfer(e Event) string {
	oldValue, newValue := Values(e.Payload)
	if e.Actor == nil {
		if newValue == "" {
			return "L’amendement a été remis automatiquement sur l’index."
		}
		return "L’amendement a été transféré automatiquement à " + quoted(newValue) + "."
	}
	self := e.Actor.Label()
	if oldValue == self {
		oldValue = ""
	}
	prefix := actorPrefix(e.Actor)
	switch {
	case newValue == "" && oldValue == "":
		return prefix + " a remis l’amendement dans l’index."
	case newValue == "":
		return prefix + " a remis l’amendement de " + quoted(oldValue) + " dans l’index."
	case newValue == self && oldValue == "":
		return prefix + " a mis l’amendement sur sa table."
	case newValue == self:
		return prefix + " a transféré l’amendement de " + quoted(oldValue) + " à lui/elle-même."
	case oldValue == "":
		return prefix + " a transféré l’amendement à " + quoted(newValue) + "."
	default:
		return prefix + " a transféré l’amendement de " + quoted(oldValue) + " à " + quoted(newValue) + "."
	}
}

func summarizeBatchSet(e Event) string {
	var nums []int
	if p, ok := e.Payload.(BatchChange); ok {
		nums = p.Nums
	}
	var with string
	switch len(nums) {
	case 0:
		if e.Actor == nil {
			return "Cet amendement a été placé dans un lot."
		}
		return actorPrefix(e.Actor) + " a placé cet amendement dans un lot."
	case 1:
		with = "l’amendement " + strconv.Itoa(nums[0])
	default:
		with = "les amendements " + frenchList(nums)
	}
	if e.Actor == nil {
		return "Cet amendement a été placé dans un lot avec " + with + "."
	}
	return actorPrefix(e.Actor) + " a placé cet amendement dans un lot avec " + with + "."
}

func summarizeBatchUnset(e Event) string {
	if e.Actor == nil {
		return "Cet amendement a été sorti du lot dans lequel il était."
	}
	return actorPrefix(e.Actor) + " a sorti cet amendement du lot dans lequel il était."
}

func summarizeSort(e Event) string {
	_, newValue := Values(e.Payload)
	if strings.Contains(strings.ToLower(newValue), "irrecevable") {
		return fmt.Sprintf("L’amendement a été déclaré irrecevable par les services %s.", deQui(e.Meta[MetaChambre]))
	}
	return fmt.Sprintf("Le sort de l’amendement a été mis à %s par les services %s.", quoted(newValue), deQui(e.Meta[MetaChambre]))
}

func summarizeArticleField(field, upstream string) func(Event) string {
	return func(e Event) string {
		oldValue, _ := Values(e.Payload)
		if e.Actor == nil {
			return fmt.Sprintf(upstream, deQui(e.Meta[MetaChambre]))
		}
		action := "ajouté"
		if oldValue != "" {
			action = "modifié"
		}
		return fmt.Sprintf("%s a %s %s.", actorPrefix(e.Actor), action, field)
	}
}

func summarizeFetched(e Event) string {
	count := 0
	if p, ok := e.Payload.(Count); ok {
		count = p.Count
	}
	var message string
	switch count {
	case 0:
		message = "Les amendements étaient à jour."
	case 1:
		message = "1 nouvel amendement récupéré."
	default:
		message = fmt.Sprintf("%d nouveaux amendements récupérés.", count)
	}
	if e.Actor == nil {
		return message
	}
	return actorPrefix(e.Actor) + " a importé des amendements : " + lowerFirstWord(message)
}

func summarizeFlagged(e Event) string {
	n := 0
	if p, ok := e.Payload.(Flagged); ok {
		n = len(p.Items)
	}
	if n == 1 {
		return "1 amendement n’a pas pu être classé et doit être vérifié."
	}
	return fmt.Sprintf("%d amendements n’ont pas pu être classés et doivent être vérifiés.", n)
}

func flaggedDetails(e Event) string {
	p, ok := e.Payload.(Flagged)
	if !ok || len(p.Items) == 0 {
		return ""
	}
	items := make([]string, len(p.Items))
	for i, item := range p.Items {
		items[i] = "<li>" + html.EscapeString(item) + "</li>"
	}
	return "<ul>" + strings.Join(items, "") + "</ul>"
}

func summarizeFailure(e Event) string {
	attempts := 0
	if p, ok := e.Payload.(Failure); ok {
		attempts = p.Attempts
	}
	return fmt.Sprintf("La récupération des amendements a échoué après %d tentative(s).", attempts)
}

func failureDetails(e Event) string {
	p, ok := e.Payload.(Failure)
	if !ok {
		return ""
	}
	return html.EscapeString(p.Error)
}

func wordDiff(e Event) string {
	oldValue, newValue := Values(e.Payload)
	return HTMLDiff(oldValue, newValue)
}

// frenchList joins numbers as "666, 777 et 999".
func frenchList(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	if len(parts) <= 1 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " et " + parts[len(parts)-1]
}

func lowerFirstWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
