package service

import (
	"bytes"
	"embed"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/Strob0t/argus/internal/domain/agent"
	"github.com/Strob0t/argus/internal/domain/orchestration"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var promptTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// maxInputLen bounds user-provided text embedded in a prompt.
const maxInputLen = 10000

var roleFocus = map[agent.Role]string{
	agent.RoleLeadArchitect:       "system structure, boundaries, trade-offs and delivery plan",
	agent.RoleSecurityAnalyst:     "threats, secrets handling, authn/authz and data exposure",
	agent.RoleCodeReviewer:        "correctness, readability, tests and maintainability",
	agent.RolePerformanceEngineer: "latency, throughput, resource usage and scalability",
}

type kv struct {
	Key   string
	Value string
}

type previousPhase struct {
	Name   string
	State  orchestration.State
	Score  float64
	Agents int
}

type phasePromptData struct {
	Project  string
	Phase    string
	Type     orchestration.PhaseType
	Role     string
	Task     string
	Context  []kv
	Previous []previousPhase
}

// SystemPrompt returns the system instructions for an agent role.
func SystemPrompt(role agent.Role) string {
	data := struct {
		Role  string
		Focus string
	}{Role: roleName(role), Focus: roleFocus[role]}
	return render("system.tmpl", data)
}

// BuildPhasePrompt assembles the prompt an agent receives for one phase
// from the request, the agent's role and a summary of earlier phases.
// The result contains no session-specific data so equal inputs share
// cache entries across sessions.
func BuildPhasePrompt(req *orchestration.Request, phase *orchestration.PhaseConfig, ag agent.Config, previous []orchestration.PhaseResult) string {
	data := phasePromptData{
		Project: req.ProjectName,
		Phase:   phase.Name,
		Type:    phase.Type,
		Role:    roleName(ag.Role),
		Task:    sanitizePromptInput(req.Prompt),
	}
	for _, k := range slices.Sorted(maps.Keys(req.Context)) {
		data.Context = append(data.Context, kv{Key: k, Value: sanitizePromptInput(req.Context[k])})
	}
	for i := range previous {
		p := &previous[i]
		pp := previousPhase{Name: p.Phase, State: p.State}
		if p.Consensus != nil {
			pp.Score = p.Consensus.Score
			pp.Agents = len(p.Consensus.Responses)
		}
		data.Previous = append(data.Previous, pp)
	}
	return render("phase.tmpl", data)
}

func render(name string, data any) string {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("prompt template render failed", "template", name, "error", err)
		return ""
	}
	return strings.TrimSpace(buf.String())
}

func roleName(r agent.Role) string {
	if r == "" {
		return "general reviewer"
	}
	return strings.ReplaceAll(string(r), "_", " ")
}

// sanitizePromptInput strips control characters and role markers from
// user-supplied text before it is embedded in a prompt.
func sanitizePromptInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.ToLower(line))
		for _, prefix := range []string{
			"system:", "assistant:", "user:", "[system]", "[assistant]",
			"<|system|>", "<|assistant|>", "<|im_start|>",
			"### system", "### assistant", "### instruction",
		} {
			if strings.HasPrefix(trimmed, prefix) {
				lines[i] = "[sanitized] " + line
				break
			}
		}
	}
	s = strings.Join(lines, "\n")

	if len(s) > maxInputLen {
		cut := maxInputLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "\n[truncated]"
	}
	return s
}
