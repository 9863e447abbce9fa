package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"guild-rewards-bot/internal/domain"
)

const (
	colorPush     = 0x2B7489
	colorOpened   = 0x2CBE4E
	colorClosed   = 0xCB2431
	colorMerged   = 0x6F42C1
	colorRelease  = 0xF1C40F
	colorFallback = 0x586069

	maxCommits     = 5
	maxDescription = 1024
)

// payload — разобранное тело события с безопасным доступом к полям.
type payload map[string]any

func (p payload) str(path string) string {
	var cur any = map[string]any(p)
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	switch v := cur.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	}
	return ""
}

func (p payload) list(key string) []map[string]any {
	raw, _ := p[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// FormatEvent строит уведомление о событии репозитория.
func FormatEvent(eventKind string, fields map[string]any) domain.OutboundMessage {
	p := payload(fields)
	var embed domain.Embed
	switch eventKind {
	case "push":
		embed = formatPush(p)
	case "pull_request":
		embed = formatPullRequest(p)
	case "issues":
		embed = formatIssue(p)
	case "release":
		embed = formatRelease(p)
	default:
		embed = domain.Embed{
			Title: fmt.Sprintf("[%s] %s", p.str("repository.full_name"), eventKind),
			URL:   p.str("repository.html_url"),
			Color: colorFallback,
		}
		if action := p.str("action"); action != "" {
			embed.Description = "Action: " + action
		}
	}
	embed.AuthorName = p.str("sender.login")
	embed.AuthorURL = p.str("sender.html_url")
	embed.AuthorIconURL = p.str("sender.avatar_url")
	embed.Description = truncate(embed.Description, maxDescription)
	return domain.OutboundMessage{Embeds: []domain.Embed{embed}}
}

func formatPush(p payload) domain.Embed {
	branch := strings.TrimPrefix(p.str("ref"), "refs/heads/")
	commits := p.list("commits")
	var b strings.Builder
	for i, c := range commits {
		if i == maxCommits {
			fmt.Fprintf(&b, "... and %d more", len(commits)-maxCommits)
			break
		}
		cp := payload(c)
		id := cp.str("id")
		if len(id) > 7 {
			id = id[:7]
		}
		msg, _, _ := strings.Cut(cp.str("message"), "\n")
		fmt.Fprintf(&b, "[`%s`](%s) %s - %s\n", id, cp.str("url"), msg, cp.str("author.name"))
	}
	noun := "commits"
	if len(commits) == 1 {
		noun = "commit"
	}
	return domain.Embed{
		Title:       fmt.Sprintf("[%s:%s] %d new %s", p.str("repository.full_name"), branch, len(commits), noun),
		URL:         p.str("compare"),
		Description: strings.TrimSpace(b.String()),
		Color:       colorPush,
	}
}

func formatPullRequest(p payload) domain.Embed {
	action := p.str("action")
	color := colorOpened
	if action == "closed" {
		color = colorClosed
		if p.str("pull_request.merged") == "true" {
			action = "merged"
			color = colorMerged
		}
	}
	return domain.Embed{
		Title:       fmt.Sprintf("[%s] Pull request %s: #%s %s", p.str("repository.full_name"), action, p.str("pull_request.number"), p.str("pull_request.title")),
		URL:         p.str("pull_request.html_url"),
		Description: p.str("pull_request.body"),
		Color:       color,
	}
}

func formatIssue(p payload) domain.Embed {
	action := p.str("action")
	color := colorOpened
	if action == "closed" {
		color = colorClosed
	}
	return domain.Embed{
		Title:       fmt.Sprintf("[%s] Issue %s: #%s %s", p.str("repository.full_name"), action, p.str("issue.number"), p.str("issue.title")),
		URL:         p.str("issue.html_url"),
		Description: p.str("issue.body"),
		Color:       color,
	}
}

func formatRelease(p payload) domain.Embed {
	name := p.str("release.name")
	if name == "" {
		name = p.str("release.tag_name")
	}
	return domain.Embed{
		Title:       fmt.Sprintf("[%s] Release %s: %s", p.str("repository.full_name"), p.str("action"), name),
		URL:         p.str("release.html_url"),
		Description: p.str("release.body"),
		Color:       colorRelease,
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}
