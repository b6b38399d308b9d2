// Package keywords holds the multilingual phrase sets used to classify
// controls and pick buttons on unsubscribe pages.
package keywords

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultYAML []byte

// Dictionary is a set of normalized keyword lists. It is read-only after
// Parse and safe to share between goroutines.
type Dictionary struct {
	Unsubscribe    []string `yaml:"unsubscribe"`
	Category       []string `yaml:"category"`
	PreferencePage []string `yaml:"preference_page"`
	Submit         []string `yaml:"submit"`
	DirectLink     []string `yaml:"direct_link"`
	EmailFields    []string `yaml:"email_fields"`
	ReasonFields   []string `yaml:"reason_fields"`
	SelectFields   []string `yaml:"select_fields"`
}

// Default returns the built-in dictionary.
func Default() *Dictionary {
	d, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("keywords: embedded dictionary: %v", err))
	}
	return d
}

// Load reads a dictionary file. An empty path yields the built-in one.
func Load(path string) (*Dictionary, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Dictionary, error) {
	var d Dictionary
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary: %w", err)
	}
	for _, set := range []*[]string{
		&d.Unsubscribe, &d.Category, &d.PreferencePage, &d.Submit,
		&d.DirectLink, &d.EmailFields, &d.ReasonFields, &d.SelectFields,
	} {
		*set = normalizeAll(*set)
	}
	if len(d.Unsubscribe) == 0 {
		return nil, fmt.Errorf("dictionary: unsubscribe set is empty")
	}
	if len(d.Submit) == 0 {
		return nil, fmt.Errorf("dictionary: submit set is empty")
	}
	if len(d.DirectLink) == 0 {
		d.DirectLink = d.Unsubscribe
	}
	return &d, nil
}

// Normalize case-folds s and collapses runs of whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, k := range in {
		k = Normalize(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// Match returns the first keyword of set contained in text.
func Match(text string, set []string) (string, bool) {
	text = Normalize(text)
	if text == "" {
		return "", false
	}
	for _, k := range set {
		if strings.Contains(text, k) {
			return k, true
		}
	}
	return "", false
}

func (d *Dictionary) IsUnsubscribe(text string) bool {
	_, ok := Match(text, d.Unsubscribe)
	return ok
}

func (d *Dictionary) IsCategory(text string) bool {
	_, ok := Match(text, d.Category)
	return ok
}

// MentionsPreferences reports whether any of the texts reads like a
// subscription preference center.
func (d *Dictionary) MentionsPreferences(texts ...string) bool {
	for _, t := range texts {
		if _, ok := Match(t, d.PreferencePage); ok {
			return true
		}
	}
	return false
}
