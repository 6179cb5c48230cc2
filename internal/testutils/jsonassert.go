package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any value, as long as the key exists.
const PresencePlaceholder = "<<PRESENCE>>"

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool `default:"true"`
	AllowPresencePlaceholder bool `default:"true"`
	IgnoredFields            []string
}

// JSONOption is a functional option for configuring JSONAsserter
type JSONOption func(*JSONAssertOptions)

func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = append(o.IgnoredFields, fields...) }
}

// JSONAsserter compares JSON documents structurally and reports an ASCII diff.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	o := JSONAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONAsserter{t: t, options: o}
}

// Assert compares actualJSON against expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertLines compares newline separated JSON documents one by one.
func (ja *JSONAsserter) AssertLines(actual string, expected ...string) {
	lines := nonEmptyLines(actual)
	if len(lines) != len(expected) {
		ja.t.Errorf("JSON lines: expected %d documents, got %d:\n%s", len(expected), len(lines), actual)
		return
	}
	for i := range lines {
		if diff := ja.diff(lines[i], expected[i]); diff != "" {
			ja.t.Errorf("JSON line %d differs:\n%s", i+1, diff)
		}
	}
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual map[string]interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	if ja.options.AllowPresencePlaceholder {
		replacePresence(expected, actual)
	}
	for _, f := range ja.options.IgnoredFields {
		delete(expected, f)
		delete(actual, f)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	d, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !d.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(d)
	return out
}

func replacePresence(expected, actual map[string]interface{}) {
	for k, v := range expected {
		switch ev := v.(type) {
		case string:
			if ev != PresencePlaceholder {
				continue
			}
			if av, ok := actual[k]; ok {
				expected[k] = av
			}
		case map[string]interface{}:
			if av, ok := actual[k].(map[string]interface{}); ok {
				replacePresence(ev, av)
			}
		}
	}
}

// pruneExtraKeys drops keys from actual that expected does not mention.
func pruneExtraKeys(actual, expected map[string]interface{}) {
	for k, av := range actual {
		ev, ok := expected[k]
		if !ok {
			delete(actual, k)
			continue
		}
		am, aok := av.(map[string]interface{})
		em, eok := ev.(map[string]interface{})
		if aok && eok {
			pruneExtraKeys(am, em)
		}
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
