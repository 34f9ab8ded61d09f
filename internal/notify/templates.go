package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/osteele/liquid"
)

// Kind identifies the situation a notification reports.
type Kind string

const (
	KindLoginFailed   Kind = "login_failed"
	KindNoData        Kind = "no_data"
	KindParseFailed   Kind = "parse_failed"
	KindLoadSucceeded Kind = "load_succeeded"
	KindLoadFailed    Kind = "load_failed"
	KindCellFailed    Kind = "cell_failed"
	KindSetupFailed   Kind = "setup_failed"
	KindRunSummary    Kind = "run_summary"
)

// Vars are the template bindings for one message, e.g. campaign, location,
// window, rows and error.
type Vars map[string]interface{}

type messageSource struct {
	subject string
	body    string
}

var defaultMessages = map[Kind]messageSource{
	KindLoginFailed: {
		subject: "Automation Failed: Login Error",
		body:    "Error: {{ error }}",
	},
	KindNoData: {
		subject: "{{ campaign }} - No Data",
		body:    "No Data in {{ campaign }} in todays file\n\nLocation: {{ location }}\nWindow: {{ window }}",
	},
	KindParseFailed: {
		subject: "Error! - Reading {{ campaign }} Report",
		body:    "The {{ campaign }} report for {{ location }} could not be read, nothing was inserted.\n\nError: {{ error }}",
	},
	KindLoadSucceeded: {
		subject: "Success! - {{ campaign }} Data to SQL Processing Complete",
		body:    "{{ campaign }} - {{ rows }} data inserted successfully into the SQL database.\n\nLocation: {{ location }}\nWindow: {{ window }}",
	},
	KindLoadFailed: {
		subject: "Error! - Inserting {{ campaign }} Data into SQL Database",
		body:    "Error: {{ error }}\n\nLocation: {{ location }}\nWindow: {{ window }}",
	},
	KindCellFailed: {
		subject: "Error! - Inserting Data into SQL Database",
		body:    "Error: {{ error }}\n\nLocation: {{ location }}\nCampaign: {{ campaign }}",
	},
	KindSetupFailed: {
		subject: "Automation Failed: Setup Error",
		body:    "Error: {{ error }}",
	},
	KindRunSummary: {
		subject: "Report ETL {{ window }}: {{ loaded }} loaded, {{ failed }} failed",
		body: "Run {{ run_id }} finished in {{ duration }}.\n\n" +
			"{% for line in results %}{{ line }}\n{% endfor %}",
	},
}

type compiled struct {
	subject *liquid.Template
	body    *liquid.Template
}

// Templates renders notification messages. Defaults can be replaced per kind
// with "<kind>_subject" and "<kind>_body" overrides.
type Templates struct {
	byKind map[Kind]compiled
}

// NewTemplates parses the default messages with overrides applied. A
// template that fails to parse is a configuration error.
func NewTemplates(overrides map[string]string) (*Templates, error) {
	engine := liquid.NewEngine()
	engine.RegisterFilter("thousands", thousands)

	t := &Templates{byKind: make(map[Kind]compiled, len(defaultMessages))}
	for kind, src := range defaultMessages {
		subject, body := src.subject, src.body
		if v, ok := overrides[string(kind)+"_subject"]; ok {
			subject = v
		}
		if v, ok := overrides[string(kind)+"_body"]; ok {
			body = v
		}

		st, err := engine.ParseString(subject)
		if err != nil {
			return nil, fmt.Errorf("%s subject: %w", kind, err)
		}
		bt, err := engine.ParseString(body)
		if err != nil {
			return nil, fmt.Errorf("%s body: %w", kind, err)
		}
		t.byKind[kind] = compiled{subject: st, body: bt}
	}

	for key := range overrides {
		k := strings.TrimSuffix(strings.TrimSuffix(key, "_subject"), "_body")
		if _, ok := defaultMessages[Kind(k)]; !ok {
			return nil, fmt.Errorf("unknown notification template %q", key)
		}
	}
	return t, nil
}

// Render produces the subject and body for kind.
func (t *Templates) Render(kind Kind, vars Vars) (Message, error) {
	c, ok := t.byKind[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown notification kind %q", kind)
	}
	bindings := liquid.Bindings(vars)
	subject, err := c.subject.RenderString(bindings)
	if err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", kind, err)
	}
	body, err := c.body.RenderString(bindings)
	if err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", kind, err)
	}
	return Message{Subject: strings.TrimSpace(subject), Body: body}, nil
}

// fallback formats a message without templates, used when rendering fails.
func fallback(kind Kind, vars Vars) Message {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, vars[k])
	}
	return Message{Subject: "Report ETL: " + string(kind), Body: b.String()}
}

// thousands formats an integer with comma separators: {{ rows | thousands }}
func thousands(v interface{}) string {
	s := fmt.Sprintf("%v", v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}
