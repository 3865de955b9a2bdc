package flattener

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/cctsync/internal/relation"
)

// Cycle is a loop of enabled mappings in which a field ends up feeding
// itself, for example makes.code → configs.code → makes.code across two
// relations. Such configurations are allowed; FindCycles only reports them.
type Cycle struct {
	Fields   []string `json:"fields"`
	Mappings []string `json:"mappings"`
}

type edge struct {
	to      string
	mapping string
}

// FindCycles returns every field-level propagation loop among enabled
// mappings. Nodes are "cct.field"; each mapping adds an edge from the parent
// source field to the child destination field.
func (e *Engine) FindCycles(ctx context.Context) ([]Cycle, error) {
	mappings, err := e.mappings.Mappings(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("flattener: mappings: %w", err)
	}

	graph := map[string][]edge{}
	for _, m := range mappings {
		rel, err := e.resolver.Relation(ctx, m.TriggerRelation)
		if err != nil {
			return nil, fmt.Errorf("flattener: relation %s: %w", m.TriggerRelation, err)
		}
		if rel == nil {
			continue
		}
		parent, ok := relation.ParentCCT(*rel)
		if !ok {
			continue
		}
		child, ok := relation.ChildCCT(*rel)
		if !ok {
			continue
		}
		from := parent + "." + m.SourceField
		to := child + "." + m.DestinationField
		graph[from] = append(graph[from], edge{to: to, mapping: m.ID})
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)

	var (
		cycles []Cycle
		seen   = map[string]bool{}
		path   []string
		via    []string
		onPath = map[string]int{}
		done   = map[string]bool{}
	)
	var visit func(n string)
	visit = func(n string) {
		onPath[n] = len(path)
		path = append(path, n)
		for _, ed := range graph[n] {
			if i, ok := onPath[ed.to]; ok {
				c := Cycle{
					Fields:   slices.Clone(path[i:]),
					Mappings: append(slices.Clone(via[i:]), ed.mapping),
				}
				key := canonical(c.Fields)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, c)
				}
				continue
			}
			if done[ed.to] {
				continue
			}
			via = append(via, ed.mapping)
			visit(ed.to)
			via = via[:len(via)-1]
		}
		path = path[:len(path)-1]
		delete(onPath, n)
		done[n] = true
	}
	for _, n := range nodes {
		if !done[n] {
			visit(n)
		}
	}

	for _, c := range cycles {
		e.logger.Warn("flattener: mapping cycle",
			slog.Any("fields", c.Fields),
			slog.Any("mappings", c.Mappings))
	}
	return cycles, nil
}

// canonical rotates a cycle so it starts at its smallest node.
func canonical(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	start := 0
	for i, f := range fields {
		if f < fields[start] {
			start = i
		}
	}
	out := ""
	for i := range fields {
		out += fields[(start+i)%len(fields)] + "|"
	}
	return out
}
