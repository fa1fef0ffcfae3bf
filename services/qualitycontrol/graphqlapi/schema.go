// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphqlapi exposes a read-only GraphQL view of the causal graph.
package graphqlapi

import (
	"context"
	"strconv"

	"github.com/graphql-go/graphql"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
)

// Reader is the store surface the schema resolves against.
type Reader interface {
	FindByName(ctx context.Context, name string) (graph.Node, bool)
	FindFuzzy(ctx context.Context, fragment string) []graph.Node
	Snapshot(ctx context.Context) graph.Snapshot
	ListFactors(ctx context.Context) []graph.Factor
	ListDefects(ctx context.Context) []graph.Defect
	CausesOf(ctx context.Context, defectName string) []graph.Factor
	DefectsCausedBy(ctx context.Context, factorName string) []graph.Defect
	CausalPaths(ctx context.Context, defectName string) (graph.PathResult, error)
	Stats(ctx context.Context) graph.Stats
}

var _ Reader = (*graph.Store)(nil)

// types bundles the object types so fields can refer to each other.
type types struct {
	factorT *graphql.Object
	defectT *graphql.Object
	nodeT   *graphql.Union
	linkT   *graphql.Object
	snapT   *graphql.Object
	pathsT  *graphql.Object
	statsT  *graphql.Object
	reader  Reader
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// NewSchema builds the schema over r.
func NewSchema(r Reader) (graphql.Schema, error) {
	t := &types{reader: r}

	t.factorT = graphql.NewObject(graphql.ObjectConfig{
		Name:        "Factor",
		Description: "An influencing factor, a cause in the graph",
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return graphql.Fields{
				"id": &graphql.Field{
					Type: graphql.NewNonNull(graphql.ID),
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return idString(p.Source.(graph.Factor).ID), nil
					},
				},
				"name": &graphql.Field{
					Type: graphql.NewNonNull(graphql.String),
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return p.Source.(graph.Factor).Name, nil
					},
				},
				"standard": &graphql.Field{
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return p.Source.(graph.Factor).Standard, nil
					},
				},
				"description": &graphql.Field{
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return p.Source.(graph.Factor).Description, nil
					},
				},
				"causesFactors": &graphql.Field{
					Type:        graphql.NewList(graphql.String),
					Description: "Names of factors this factor causes",
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return p.Source.(graph.Factor).CausesFactor, nil
					},
				},
				"causesDefects": &graphql.Field{
					Type:        graphql.NewList(t.defectT),
					Description: "Defects this factor causes directly",
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return r.DefectsCausedBy(p.Context, p.Source.(graph.Factor).Name), nil
					},
				},
			}
		}),
	})

	t.defectT = graphql.NewObject(graphql.ObjectConfig{
		Name:        "Defect",
		Description: "A defect type, an effect in the graph",
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return graphql.Fields{
				"id": &graphql.Field{
					Type: graphql.NewNonNull(graphql.ID),
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return idString(p.Source.(graph.Defect).ID), nil
					},
				},
				"name": &graphql.Field{
					Type: graphql.NewNonNull(graphql.String),
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return p.Source.(graph.Defect).Name, nil
					},
				},
				"typicalManifestations": &graphql.Field{
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return p.Source.(graph.Defect).TypicalManifestations, nil
					},
				},
				"causes": &graphql.Field{
					Type:        graphql.NewList(t.factorT),
					Description: "Factors with a direct edge into this defect",
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return r.CausesOf(p.Context, p.Source.(graph.Defect).Name), nil
					},
				},
			}
		}),
	})

	t.nodeT = graphql.NewUnion(graphql.UnionConfig{
		Name:  "Node",
		Types: []*graphql.Object{t.factorT, t.defectT},
		ResolveType: func(p graphql.ResolveTypeParams) *graphql.Object {
			switch p.Value.(type) {
			case graph.Factor:
				return t.factorT
			case graph.Defect:
				return t.defectT
			default:
				return nil
			}
		},
	})

	t.linkT = graphql.NewObject(graphql.ObjectConfig{
		Name: "Link",
		Fields: graphql.Fields{
			"source": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(graph.Link).Source, nil
				},
			},
			"target": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(graph.Link).Target, nil
				},
			},
		},
	})

	t.snapT = graphql.NewObject(graphql.ObjectConfig{
		Name: "Snapshot",
		Fields: graphql.Fields{
			"nodes": &graphql.Field{
				Type: graphql.NewList(t.nodeT),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return unwrapNodes(p.Source.(graph.Snapshot).Nodes), nil
				},
			},
			"links": &graphql.Field{
				Type: graphql.NewList(t.linkT),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(graph.Snapshot).Links, nil
				},
			},
		},
	})

	t.pathsT = graphql.NewObject(graphql.ObjectConfig{
		Name:        "CausalPaths",
		Description: "Root-cause chains ending at a defect, root first",
		Fields: graphql.Fields{
			"paths": &graphql.Field{
				Type: graphql.NewList(graphql.NewList(t.factorT)),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(graph.PathResult).Paths, nil
				},
			},
			"cycles": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(graph.PathResult).Cycles, nil
				},
			},
			"truncated": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(graph.PathResult).Truncated, nil
				},
			},
		},
	})

	t.statsT = graphql.NewObject(graphql.ObjectConfig{
		Name: "Stats",
		Fields: graphql.Fields{
			"factors": &graphql.Field{Type: graphql.Int, Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(graph.Stats).Factors, nil
			}},
			"defects": &graphql.Field{Type: graphql.Int, Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(graph.Stats).Defects, nil
			}},
			"edges": &graphql.Field{Type: graphql.Int, Resolve: func(p graphql.ResolveParams) (any, error) {
				return p.Source.(graph.Stats).Edges, nil
			}},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: t.queryType(),
	})
}

func nameArg(required bool) graphql.FieldConfigArgument {
	var typ graphql.Input = graphql.String
	if required {
		typ = graphql.NewNonNull(graphql.String)
	}
	return graphql.FieldConfigArgument{"name": &graphql.ArgumentConfig{Type: typ}}
}

func (t *types) queryType() *graphql.Object {
	r := t.reader
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"node": &graphql.Field{
				Type:        t.nodeT,
				Description: "Node by exact name; factors win over defects",
				Args:        nameArg(true),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					n, ok := r.FindByName(p.Context, p.Args["name"].(string))
					if !ok {
						return nil, nil
					}
					return unwrapNode(n), nil
				},
			},
			"search": &graphql.Field{
				Type:        graphql.NewList(t.nodeT),
				Description: "Nodes whose name contains the fragment",
				Args:        nameArg(true),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return unwrapNodes(r.FindFuzzy(p.Context, p.Args["name"].(string))), nil
				},
			},
			"snapshot": &graphql.Field{
				Type: t.snapT,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return r.Snapshot(p.Context), nil
				},
			},
			"factors": &graphql.Field{
				Type: graphql.NewList(t.factorT),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return r.ListFactors(p.Context), nil
				},
			},
			"defects": &graphql.Field{
				Type:        graphql.NewList(t.defectT),
				Description: "All defects, or those caused directly by factorName",
				Args: graphql.FieldConfigArgument{
					"factorName": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if name, ok := p.Args["factorName"].(string); ok {
						return r.DefectsCausedBy(p.Context, name), nil
					}
					return r.ListDefects(p.Context), nil
				},
			},
			"causes": &graphql.Field{
				Type: graphql.NewList(t.factorT),
				Args: graphql.FieldConfigArgument{
					"defectName": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return r.CausesOf(p.Context, p.Args["defectName"].(string)), nil
				},
			},
			"causalPaths": &graphql.Field{
				Type: t.pathsT,
				Args: graphql.FieldConfigArgument{
					"defectName": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return r.CausalPaths(p.Context, p.Args["defectName"].(string))
				},
			},
			"stats": &graphql.Field{
				Type: t.statsT,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return r.Stats(p.Context), nil
				},
			},
		},
	})
}

// unwrapNode returns the concrete Factor or Defect for union resolution.
func unwrapNode(n graph.Node) any {
	if n.Kind == graph.KindFactor {
		return *n.Factor
	}
	return *n.Defect
}

func unwrapNodes(nodes []graph.Node) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = unwrapNode(n)
	}
	return out
}
