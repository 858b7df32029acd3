// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Diagram holds a mermaid and an ASCII rendering of the graph structure.
type Diagram struct {
	Mermaid string
	ASCII   string
}

// Diagram renders the graph structure. The rendering is computed once per
// graph structure and cached; Compile resets the cache.
func (g *Graph[S]) Diagram() Diagram {
	if g.diagram != nil {
		return *g.diagram
	}
	d := Diagram{
		Mermaid: g.renderMermaid(),
		ASCII:   g.renderASCII(),
	}
	g.diagram = &d
	return d
}

func displayName(node string) string {
	switch node {
	case Start:
		return "START"
	case End:
		return "END"
	}
	return node
}

// sortedEdges flattens edges into a deterministic list of
// (from, label, to) triples. Unconditional edges carry an empty label.
func (g *Graph[S]) sortedEdges() [][3]string {
	var out [][3]string
	for from, to := range g.edges {
		out = append(out, [3]string{from, "", to})
	}
	for from, cond := range g.conditional {
		for label, to := range cond.mapping {
			out = append(out, [3]string{from, label, to})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

func (g *Graph[S]) renderMermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, e := range g.sortedEdges() {
		from, label, to := displayName(e[0]), e[1], displayName(e[2])
		if label == "" {
			fmt.Fprintf(&b, "    %s --> %s\n", from, to)
		} else {
			fmt.Fprintf(&b, "    %s -->|%s| %s\n", from, label, to)
		}
	}
	return b.String()
}

func (g *Graph[S]) renderASCII() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n", g.name)
	for _, e := range g.sortedEdges() {
		from, label, to := displayName(e[0]), e[1], displayName(e[2])
		if label == "" {
			fmt.Fprintf(&b, "  %s --> %s\n", from, to)
		} else {
			fmt.Fprintf(&b, "  %s --(%s)--> %s\n", from, label, to)
		}
	}
	return b.String()
}

// SaveDiagram writes the mermaid rendering under dir as <graph>.mmd and
// the ASCII rendering as <graph>.txt.
func (g *Graph[S]) SaveDiagram(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create diagram directory: %w", err)
	}

	d := g.Diagram()
	if err := os.WriteFile(filepath.Join(dir, g.name+".mmd"), []byte(d.Mermaid), 0644); err != nil {
		return fmt.Errorf("failed to write mermaid diagram: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, g.name+".txt"), []byte(d.ASCII), 0644); err != nil {
		return fmt.Errorf("failed to write ascii diagram: %w", err)
	}
	return nil
}
