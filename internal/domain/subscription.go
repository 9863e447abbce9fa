package domain

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// EventsAll разрешает все типы событий репозитория.
const EventsAll = "all"

// eventAliases сопоставляет короткие имена из настроек типам событий GitHub.
var eventAliases = map[string]string{
	"push":         "push",
	"pr":           "pull_request",
	"pull_request": "pull_request",
	"issue":        "issues",
	"issues":       "issues",
	"release":      "release",
}

var repositoryRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// NormalizeRepository проверяет формат "owner/repo" и приводит его к нижнему регистру.
func NormalizeRepository(repo string) (string, error) {
	repo = strings.TrimSpace(repo)
	if !repositoryRe.MatchString(repo) {
		return "", fmt.Errorf("%w: repository must look like owner/repo", ErrInvalidConfig)
	}
	return strings.ToLower(repo), nil
}

// NormalizeEvents приводит список событий к каноничному виду: "all" или
// отсортированные через запятую короткие имена без повторов.
func NormalizeEvents(events string) (string, error) {
	events = strings.ToLower(strings.TrimSpace(events))
	if events == "" || events == EventsAll {
		return EventsAll, nil
	}
	var out []string
	for _, part := range strings.Split(events, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == EventsAll {
			return EventsAll, nil
		}
		kind, ok := eventAliases[part]
		if !ok {
			return "", fmt.Errorf("%w: unknown event %q", ErrInvalidConfig, part)
		}
		short := shortEventName(kind)
		if !slices.Contains(out, short) {
			out = append(out, short)
		}
	}
	if len(out) == 0 {
		return EventsAll, nil
	}
	slices.Sort(out)
	return strings.Join(out, ","), nil
}

func shortEventName(kind string) string {
	switch kind {
	case "pull_request":
		return "pr"
	case "issues":
		return "issue"
	default:
		return kind
	}
}

// Allows сообщает, разрешён ли тип события GitHub (значение X-GitHub-Event) подпиской.
func (s RepoSubscription) Allows(eventKind string) bool {
	events := strings.ToLower(strings.TrimSpace(s.Events))
	if events == "" || events == EventsAll {
		return true
	}
	eventKind = strings.ToLower(strings.TrimSpace(eventKind))
	for _, part := range strings.Split(events, ",") {
		part = strings.TrimSpace(part)
		if part == EventsAll {
			return true
		}
		if kind, ok := eventAliases[part]; ok && kind == eventKind {
			return true
		}
	}
	return false
}
