package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Classify determines the sender from request headers
func Classify(h http.Header) Source {
	switch {
	case h.Get("X-GitHub-Event") != "":
		return SourceGitHub
	case h.Get("Stripe-Signature") != "":
		return SourceStripe
	default:
		return SourceGeneric
	}
}

// Describe turns a delivery body into an activity description and metadata.
// Unparseable bodies still produce an event.
func Describe(source Source, h http.Header, body []byte) Event {
	switch source {
	case SourceGitHub:
		return describeGitHub(h.Get("X-GitHub-Event"), h.Get("X-GitHub-Delivery"), body)
	case SourceStripe:
		return describeStripe(body)
	default:
		return describeGeneric(body)
	}
}

func describeGitHub(eventType, delivery string, body []byte) Event {
	ev := Event{
		Source:   SourceGitHub,
		Type:     eventType,
		Metadata: map[string]any{"event": eventType},
	}
	if delivery != "" {
		ev.Metadata["delivery"] = delivery
	}

	var p gitHubPayload
	if err := json.Unmarshal(body, &p); err != nil {
		ev.Description = "GitHub " + eventType
		return ev
	}

	repo := "unknown repository"
	if p.Repository != nil {
		repo = p.Repository.FullName
		ev.Metadata["repo"] = repo
	}
	if p.Sender != nil {
		ev.Metadata["sender"] = p.Sender.Login
	}
	if p.Action != "" {
		ev.Metadata["action"] = p.Action
	}

	switch eventType {
	case "push":
		ev.Metadata["branch"] = strings.TrimPrefix(p.Ref, "refs/heads/")
		ev.Metadata["commits"] = len(p.Commits)
		ev.Description = fmt.Sprintf("push to %s (%s)", repo, plural(len(p.Commits), "commit"))
	case "pull_request":
		if p.PullRequest != nil {
			action := p.Action
			if action == "closed" && p.PullRequest.Merged {
				action = "merged"
			}
			ev.Metadata["number"] = p.PullRequest.Number
			ev.Metadata["url"] = p.PullRequest.HTMLURL
			ev.Description = fmt.Sprintf("pull request #%d %s in %s: %s", p.PullRequest.Number, action, repo, p.PullRequest.Title)
		}
	case "issues":
		if p.Issue != nil {
			ev.Metadata["number"] = p.Issue.Number
			ev.Metadata["url"] = p.Issue.HTMLURL
			ev.Description = fmt.Sprintf("issue #%d %s in %s: %s", p.Issue.Number, p.Action, repo, p.Issue.Title)
		}
	case "release":
		if p.Release != nil {
			ev.Description = fmt.Sprintf("release %s %s in %s", p.Release.TagName, p.Action, repo)
		}
	case "workflow_run":
		if p.WorkflowRun != nil {
			ev.Metadata["conclusion"] = p.WorkflowRun.Conclusion
			ev.Description = fmt.Sprintf("workflow %s %s in %s", p.WorkflowRun.Name, firstNonEmpty(p.WorkflowRun.Conclusion, p.Action), repo)
		}
	case "ping":
		ev.Description = "GitHub ping from " + repo
	}

	if ev.Description == "" {
		ev.Description = strings.TrimSpace(fmt.Sprintf("%s %s in %s", eventType, p.Action, repo))
		ev.Description = strings.ReplaceAll(ev.Description, "  ", " ")
	}
	return ev
}

func describeStripe(body []byte) Event {
	ev := Event{
		Source:   SourceStripe,
		Type:     "stripe",
		Metadata: map[string]any{},
	}

	var se stripeEvent
	if err := json.Unmarshal(body, &se); err != nil || se.Type == "" {
		ev.Description = "Stripe event"
		return ev
	}

	ev.Type = se.Type
	ev.Description = se.Type
	ev.Metadata["event"] = se.Type
	ev.Metadata["stripeId"] = se.ID
	ev.Metadata["livemode"] = se.Livemode

	obj := se.Data.Object
	amount := obj.AmountPaid
	if amount == 0 {
		amount = obj.Amount
	}
	if amount > 0 && obj.Currency != "" {
		ev.Metadata["amount"] = float64(amount) / 100
		ev.Metadata["currency"] = obj.Currency
		ev.Description = fmt.Sprintf("%s: %.2f %s", se.Type, float64(amount)/100, strings.ToUpper(obj.Currency))
	}
	if obj.CustomerEmail != "" {
		ev.Metadata["customer"] = obj.CustomerEmail
		ev.Description += " (" + obj.CustomerEmail + ")"
	}
	return ev
}

func describeGeneric(body []byte) Event {
	ev := Event{
		Source:      SourceGeneric,
		Type:        "generic",
		Description: "generic webhook received",
		Metadata:    map[string]any{},
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		if len(body) > 0 {
			ev.Metadata["raw"] = truncate(string(body), 500)
		}
		return ev
	}

	ev.Metadata["payload"] = payload
	for _, key := range []string{"event", "type", "action"} {
		if v, ok := payload[key].(string); ok && v != "" {
			ev.Type = v
			break
		}
	}
	for _, key := range []string{"message", "description", "text", "title"} {
		if v, ok := payload[key].(string); ok && v != "" {
			ev.Description = truncate(v, 200)
			return ev
		}
	}
	if ev.Type != "generic" {
		ev.Description = "webhook: " + ev.Type
	}
	return ev
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
