package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opencode-ai/custodian/pkg/types"
)

const helpText = `Commands:
  /new                  Start a new session
  /sessions             List sessions
  /switch <id>          Switch session (a unique id prefix is enough)
  /delete <id>          Delete a session
  /cancel               Stop the agent
  /compact              Summarize the session to free context
  /allow [once|always]  Approve the pending permission request
  /deny                 Reject the pending permission request
  /answer <choices>     Answer the pending question, e.g. 1,3 or 2;1
  /skip                 Dismiss the pending question
  /model [p/m|clear]    Show, pin or clear the model
  /models               List models
  /commands             List server commands
  /run <name> [args]    Run a server command
  /track <path...>      Describe changes to these files in prompts
  /untrack [path...]    Stop tracking files (all when none given)
  /context [on|off]     Show or toggle the diff context
  /help                 Show this help
  /exit                 Quit
Lines ending in \ continue on the next line.`

type slashCommand struct {
	Name string
	Args []string
	Rest string
}

func parseCommand(line string) slashCommand {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	return slashCommand{
		Name: strings.ToLower(name),
		Args: strings.Fields(rest),
		Rest: rest,
	}
}

// parseAnswers turns "1,3;2" into one label list per question. Numbers pick
// options by position; anything else is taken as a typed answer.
func parseAnswers(q types.QuestionRequest, spec string) ([][]string, error) {
	groups := strings.Split(spec, ";")
	if len(groups) != len(q.Questions) {
		return nil, fmt.Errorf("expected answers for %d question(s), got %d", len(q.Questions), len(groups))
	}
	answers := make([][]string, len(groups))
	for i, group := range groups {
		question := q.Questions[i]
		labels := []string{}
		for _, choice := range strings.Split(group, ",") {
			choice = strings.TrimSpace(choice)
			if choice == "" {
				continue
			}
			if n, err := strconv.Atoi(choice); err == nil {
				if n < 1 || n > len(question.Options) {
					return nil, fmt.Errorf("question %d has no option %d", i+1, n)
				}
				choice = question.Options[n-1].Label
			}
			labels = append(labels, choice)
		}
		if len(labels) == 0 {
			return nil, fmt.Errorf("question %d needs an answer", i+1)
		}
		if len(labels) > 1 && !question.Multiple {
			return nil, fmt.Errorf("question %d takes a single answer", i+1)
		}
		answers[i] = labels
	}
	return answers, nil
}

var errAmbiguousSession = errors.New("ambiguous session id")

// matchSession resolves an id or unique id prefix against list.
func matchSession(list []types.Session, id string) (string, error) {
	if _, ok := types.FindSession(list, id); ok {
		return id, nil
	}
	var match string
	for _, s := range list {
		if strings.HasPrefix(s.ID, id) {
			if match != "" {
				return "", fmt.Errorf("%w: %s", errAmbiguousSession, id)
			}
			match = s.ID
		}
	}
	if match == "" {
		return id, nil
	}
	return match, nil
}
