package ansible

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var ruleIDRE = regexp.MustCompile(`^[0-9]{6}$`)

// ToggleKey returns the role variable that enables or disables managing one
// STIG rule, for example rhel10stig_stigrule_257777_Manage.
func ToggleKey(namespace, ruleID string) (string, error) {
	if !ruleIDRE.MatchString(ruleID) {
		return "", fmt.Errorf("rule id %q is not a six digit STIG number", ruleID)
	}
	return fmt.Sprintf("%s_stigrule_%s_Manage", namespace, ruleID), nil
}

// RuleToggles edits the vars file handed to the role with -e. Edits go
// through the YAML node tree so comments and unrelated variables survive.
type RuleToggles struct {
	Path      string
	Namespace string
}

func (rt RuleToggles) keyRE() *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(rt.Namespace) + `_stigrule_([0-9]{6})_Manage$`)
}

// Load reads the current toggles, keyed by rule id. A missing file is an
// empty set.
func (rt RuleToggles) Load() (map[string]bool, error) {
	data, err := os.ReadFile(rt.Path)
	if os.IsNotExist(err) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse vars file %s: %v", rt.Path, err)
	}
	toggles := map[string]bool{}
	root := documentRoot(&doc)
	if root == nil {
		return toggles, nil
	}
	re := rt.keyRE()
	for i := 0; i+1 < len(root.Content); i += 2 {
		m := re.FindStringSubmatch(root.Content[i].Value)
		if m == nil {
			continue
		}
		v, err := parseYAMLBool(root.Content[i+1].Value)
		if err != nil {
			return nil, fmt.Errorf("vars file %s: %s: %v", rt.Path, root.Content[i].Value, err)
		}
		toggles[m[1]] = v
	}
	return toggles, nil
}

// Set upserts toggles for the given rule ids, leaving everything else in
// the file untouched. The file is created when missing.
func (rt RuleToggles) Set(rules map[string]bool) error {
	ids := make([]string, 0, len(rules))
	for id := range rules {
		if !ruleIDRE.MatchString(id) {
			return fmt.Errorf("rule id %q is not a six digit STIG number", id)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	root := &yaml.Node{Kind: yaml.MappingNode}
	data, err := os.ReadFile(rt.Path)
	switch {
	case err == nil:
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse vars file %s: %v", rt.Path, err)
		}
		if r := documentRoot(&doc); r != nil {
			root = r
		}
	case !os.IsNotExist(err):
		return err
	}

	for _, id := range ids {
		key, err := ToggleKey(rt.Namespace, id)
		if err != nil {
			return err
		}
		setBoolKey(root, key, rules[id])
	}

	out, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("marshal vars file: %v", err)
	}
	return os.WriteFile(rt.Path, out, 0o644)
}

// Clear removes the toggles for the given rule ids.
func (rt RuleToggles) Clear(ruleIDs []string) error {
	data, err := os.ReadFile(rt.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse vars file %s: %v", rt.Path, err)
	}
	root := documentRoot(&doc)
	if root == nil {
		return nil
	}

	drop := map[string]bool{}
	for _, id := range ruleIDs {
		key, err := ToggleKey(rt.Namespace, id)
		if err != nil {
			return err
		}
		drop[key] = true
	}
	kept := root.Content[:0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if drop[root.Content[i].Value] {
			continue
		}
		kept = append(kept, root.Content[i], root.Content[i+1])
	}
	root.Content = kept

	out, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("marshal vars file: %v", err)
	}
	return os.WriteFile(rt.Path, out, 0o644)
}

// documentRoot returns the top level mapping of a parsed file, nil when the
// file is empty or not a mapping.
func documentRoot(doc *yaml.Node) *yaml.Node {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	return root
}

// setBoolKey updates key in place when present, preserving its comments,
// and appends it otherwise.
func setBoolKey(root *yaml.Node, key string, val bool) {
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			n := root.Content[i+1]
			n.Kind = yaml.ScalarNode
			n.Tag = "!!bool"
			n.Value = strconv.FormatBool(val)
			n.Content = nil
			return
		}
	}
	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(val)},
	)
}

func parseYAMLBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(s)
}
