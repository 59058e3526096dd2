package ansible

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/ini.v1"
	utilexec "k8s.io/utils/exec"
)

// Host is one inventory entry with its effective connection variables.
type Host struct {
	Name string
	Vars map[string]string
}

// Address is the connection address, ansible_host when set.
func (h Host) Address() string {
	if v := h.Vars["ansible_host"]; v != "" {
		return v
	}
	return h.Name
}

// User is ansible_user, empty when unset.
func (h Host) User() string {
	return h.Vars["ansible_user"]
}

// Port is ansible_port, defaulting to 22.
func (h Host) Port() int {
	if v := h.Vars["ansible_port"]; v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return 22
}

// Inventory is a parsed ansible inventory.
type Inventory struct {
	hosts     map[string]*Host
	groups    map[string][]string
	children  map[string][]string
	groupVars map[string]map[string]string
}

func newInventory() *Inventory {
	return &Inventory{
		hosts:     map[string]*Host{},
		groups:    map[string][]string{},
		children:  map[string][]string{},
		groupVars: map[string]map[string]string{},
	}
}

// LoadInventory parses an INI-format inventory: host lines with inline
// variables, [group] sections, [group:children] and [group:vars].
func LoadInventory(path string) (*Inventory, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:   true,
		KeyValueDelimiters: "=",
	}, path)
	if err != nil {
		return nil, fmt.Errorf("parse inventory %s: %v", path, err)
	}

	inv := newInventory()
	for _, sec := range f.Sections() {
		name := sec.Name()
		switch {
		case name == ini.DefaultSection:
			inv.addHostLines("ungrouped", sec)
		case strings.HasSuffix(name, ":vars"):
			group := strings.TrimSuffix(name, ":vars")
			vars := map[string]string{}
			for _, key := range sec.Keys() {
				vars[key.Name()] = key.Value()
			}
			inv.groupVars[group] = vars
		case strings.HasSuffix(name, ":children"):
			group := strings.TrimSuffix(name, ":children")
			for _, key := range sec.Keys() {
				inv.children[group] = append(inv.children[group], key.Name())
			}
		default:
			inv.addHostLines(name, sec)
		}
	}
	inv.applyGroupVars()
	return inv, nil
}

// addHostLines reassembles each key back into the original inventory line.
// The INI parser splits "web1 ansible_host=10.0.0.5" at the first equals
// sign, leaving the host name and first variable name in the key.
func (inv *Inventory) addHostLines(group string, sec *ini.Section) {
	for _, key := range sec.Keys() {
		line := key.Name()
		if strings.Contains(line, " ") {
			line = line + "=" + key.Value()
		}
		h := parseHostLine(line)
		if existing, ok := inv.hosts[h.Name]; ok {
			for k, v := range h.Vars {
				existing.Vars[k] = v
			}
		} else {
			inv.hosts[h.Name] = h
		}
		inv.groups[group] = append(inv.groups[group], h.Name)
	}
}

func parseHostLine(line string) *Host {
	fields := strings.Fields(line)
	h := &Host{Name: fields[0], Vars: map[string]string{}}
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			h.Vars[k] = v
		}
	}
	return h
}

// applyGroupVars fills host variables from group vars without overriding
// host level ones. The all group is weakest and applied last.
func (inv *Inventory) applyGroupVars() {
	groups := make([]string, 0, len(inv.groupVars))
	for g := range inv.groupVars {
		if g != "all" {
			groups = append(groups, g)
		}
	}
	sort.Strings(groups)
	if _, ok := inv.groupVars["all"]; ok {
		groups = append(groups, "all")
	}
	for _, g := range groups {
		for _, name := range inv.members(g, map[string]bool{}) {
			h := inv.hosts[name]
			for k, v := range inv.groupVars[g] {
				if _, ok := h.Vars[k]; !ok {
					h.Vars[k] = v
				}
			}
		}
	}
}

func (inv *Inventory) members(group string, seen map[string]bool) []string {
	if seen[group] {
		return nil
	}
	seen[group] = true
	if group == "all" {
		names := make([]string, 0, len(inv.hosts))
		for n := range inv.hosts {
			names = append(names, n)
		}
		sort.Strings(names)
		return names
	}
	names := append([]string(nil), inv.groups[group]...)
	for _, child := range inv.children[group] {
		names = append(names, inv.members(child, seen)...)
	}
	return names
}

// Hosts returns the group's hosts, children included, sorted by name. An
// empty group name means everything.
func (inv *Inventory) Hosts(group string) []*Host {
	if group == "" {
		group = "all"
	}
	names := inv.members(group, map[string]bool{})
	sort.Strings(names)
	out := make([]*Host, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		if h, ok := inv.hosts[n]; ok && !seen[n] {
			seen[n] = true
			out = append(out, h)
		}
	}
	return out
}

// Lookup returns one host by name.
func (inv *Inventory) Lookup(name string) (*Host, bool) {
	h, ok := inv.hosts[name]
	return h, ok
}

// LoadInventoryJSON parses the ansible-inventory --list format.
func LoadInventoryJSON(data []byte) (*Inventory, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid inventory JSON")
	}
	inv := newInventory()
	root := gjson.ParseBytes(data)

	root.Get("_meta.hostvars").ForEach(func(name, vars gjson.Result) bool {
		h := &Host{Name: name.String(), Vars: map[string]string{}}
		vars.ForEach(func(k, v gjson.Result) bool {
			h.Vars[k.String()] = v.String()
			return true
		})
		inv.hosts[h.Name] = h
		return true
	})

	root.ForEach(func(group, body gjson.Result) bool {
		gname := group.String()
		if gname == "_meta" {
			return true
		}
		body.Get("hosts").ForEach(func(_, hn gjson.Result) bool {
			name := hn.String()
			if _, ok := inv.hosts[name]; !ok {
				inv.hosts[name] = &Host{Name: name, Vars: map[string]string{}}
			}
			inv.groups[gname] = append(inv.groups[gname], name)
			return true
		})
		body.Get("children").ForEach(func(_, c gjson.Result) bool {
			inv.children[gname] = append(inv.children[gname], c.String())
			return true
		})
		return true
	})
	return inv, nil
}

// FetchInventory resolves an inventory through ansible-inventory when it is
// installed, so dynamic sources and plugin inventories work, and falls back
// to parsing the file directly.
func FetchInventory(ctx context.Context, execer utilexec.Interface, path string) (*Inventory, error) {
	if _, err := execer.LookPath("ansible-inventory"); err != nil {
		return LoadInventory(path)
	}
	out, err := execer.CommandContext(ctx, "ansible-inventory", "-i", path, "--list").Output()
	if err != nil {
		return LoadInventory(path)
	}
	return LoadInventoryJSON(out)
}
